package domain

import "time"

// Phase is one state of the room state machine. The authoritative value lives
// on the Room record; every client derives its local view from it.
type Phase string

const (
	PhaseLobby       Phase = "lobby"
	PhasePreparing   Phase = "preparing"
	PhaseQuestion    Phase = "question_active"
	PhaseLeaderboard Phase = "showing_leaderboard"
	PhaseFinished    Phase = "finished"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseLobby, PhasePreparing, PhaseQuestion, PhaseLeaderboard, PhaseFinished:
		return true
	}
	return false
}

// SentinelOption is recorded as the selected option when a player's countdown
// expires without an answer.
const SentinelOption = -1

// Room is one game instance. QuestionIndex is only meaningful while the phase
// is question_active or showing_leaderboard; it is always within
// [0, questionCount], where questionCount means "just finished the last one".
type Room struct {
	RoomID        string
	Code          string
	Phase         Phase
	QuestionIndex int
	CreateTime    time.Time
}

// Player belongs to a room. Exactly one player per room has IsHost set; the
// flag is assigned at creation and never changes. Score is the cumulative
// display score, not the leaderboard ranking input.
type Player struct {
	PlayerID string
	RoomID   string
	Name     string
	IsHost   bool
	Score    int
	JoinTime time.Time
}

// Question is immutable for one game cycle. Number is the 0-based position
// within the room's question set.
type Question struct {
	QuestionID    string
	RoomID        string
	Number        int
	Text          string
	Options       []string
	CorrectOption int
}

// Answer is append-only. SelectedOption may be SentinelOption for a timeout.
// At most one answer exists per (player, question) pair.
type Answer struct {
	AnswerID       string
	PlayerID       string
	QuestionID     string
	SelectedOption int
	ElapsedMs      int64
	Correct        bool
	SubmitTime     time.Time
}

// LeaderboardEntry is one row of the on-demand leaderboard query: correct
// answers and the summed time of the correct ones. Ordering is correct count
// descending, then total time ascending.
type LeaderboardEntry struct {
	PlayerID    string
	Name        string
	Correct     int
	TotalTimeMs int64
}
