package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ludge/goal-gala-quiz-time/internal/domain"
)

// envelope is the JSON frame on a room channel. Exactly one of the entity
// names in Entity; Before/After hold that entity's wire form.
type envelope struct {
	Entity string          `json:"entity"`
	Kind   string          `json:"kind"`
	Before json.RawMessage `json:"before,omitempty"`
	After  json.RawMessage `json:"after,omitempty"`
}

const (
	entityRoom   = "room"
	entityPlayer = "player"
	entityAnswer = "answer"
)

type wireRoom struct {
	RoomID        string    `json:"room_id"`
	Code          string    `json:"code"`
	Phase         string    `json:"game_state"`
	QuestionIndex int       `json:"question_index"`
	CreateTime    time.Time `json:"created_at"`
}

type wirePlayer struct {
	PlayerID string    `json:"player_id"`
	RoomID   string    `json:"room_id"`
	Name     string    `json:"name"`
	IsHost   bool      `json:"is_host"`
	Score    int       `json:"score"`
	JoinTime time.Time `json:"joined_at"`
}

type wireAnswer struct {
	AnswerID       string    `json:"answer_id"`
	PlayerID       string    `json:"player_id"`
	QuestionID     string    `json:"question_id"`
	SelectedOption int       `json:"selected_option_index"`
	ElapsedMs      int64     `json:"time_taken_ms"`
	Correct        bool      `json:"is_correct"`
	SubmitTime     time.Time `json:"submitted_at"`
}

func roomToWire(r *domain.Room) *wireRoom {
	if r == nil {
		return nil
	}
	return &wireRoom{
		RoomID:        r.RoomID,
		Code:          r.Code,
		Phase:         string(r.Phase),
		QuestionIndex: r.QuestionIndex,
		CreateTime:    r.CreateTime,
	}
}

func roomFromWire(w *wireRoom) *domain.Room {
	if w == nil {
		return nil
	}
	return &domain.Room{
		RoomID:        w.RoomID,
		Code:          w.Code,
		Phase:         domain.Phase(w.Phase),
		QuestionIndex: w.QuestionIndex,
		CreateTime:    w.CreateTime,
	}
}

func playerToWire(p *domain.Player) *wirePlayer {
	if p == nil {
		return nil
	}
	return &wirePlayer{
		PlayerID: p.PlayerID,
		RoomID:   p.RoomID,
		Name:     p.Name,
		IsHost:   p.IsHost,
		Score:    p.Score,
		JoinTime: p.JoinTime,
	}
}

func playerFromWire(w *wirePlayer) *domain.Player {
	if w == nil {
		return nil
	}
	return &domain.Player{
		PlayerID: w.PlayerID,
		RoomID:   w.RoomID,
		Name:     w.Name,
		IsHost:   w.IsHost,
		Score:    w.Score,
		JoinTime: w.JoinTime,
	}
}

func answerToWire(a *domain.Answer) *wireAnswer {
	if a == nil {
		return nil
	}
	return &wireAnswer{
		AnswerID:       a.AnswerID,
		PlayerID:       a.PlayerID,
		QuestionID:     a.QuestionID,
		SelectedOption: a.SelectedOption,
		ElapsedMs:      a.ElapsedMs,
		Correct:        a.Correct,
		SubmitTime:     a.SubmitTime,
	}
}

func answerFromWire(w *wireAnswer) *domain.Answer {
	if w == nil {
		return nil
	}
	return &domain.Answer{
		AnswerID:       w.AnswerID,
		PlayerID:       w.PlayerID,
		QuestionID:     w.QuestionID,
		SelectedOption: w.SelectedOption,
		ElapsedMs:      w.ElapsedMs,
		Correct:        w.Correct,
		SubmitTime:     w.SubmitTime,
	}
}

func marshalEnvelope(entity string, kind domain.ChangeKind, before, after any) ([]byte, error) {
	env := envelope{Entity: entity, Kind: string(kind)}

	var err error
	if before != nil {
		if env.Before, err = json.Marshal(before); err != nil {
			return nil, fmt.Errorf("marshal before: %w", err)
		}
	}
	if after != nil {
		if env.After, err = json.Marshal(after); err != nil {
			return nil, fmt.Errorf("marshal after: %w", err)
		}
	}

	return json.Marshal(env)
}

func decodeWire[T any](raw json.RawMessage) (*T, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var w T
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return &w, nil
}
