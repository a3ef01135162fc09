package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ludge/goal-gala-quiz-time/internal/domain"
	"github.com/Ludge/goal-gala-quiz-time/internal/errors"
	"github.com/Ludge/goal-gala-quiz-time/internal/game"
)

// Memory is an in-process Store used by tests and single-node runs. It
// enforces the same uniqueness rules as the Postgres schema: join codes and
// (player, question) answer pairs.
type Memory struct {
	mu        sync.RWMutex
	rooms     map[string]*domain.Room
	players   map[string]*domain.Player
	questions map[string]*domain.Question
	answers   map[string]*domain.Answer
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		rooms:     make(map[string]*domain.Room),
		players:   make(map[string]*domain.Player),
		questions: make(map[string]*domain.Question),
		answers:   make(map[string]*domain.Answer),
		now:       time.Now,
	}
}

func (m *Memory) CreateRoom(_ context.Context, code string) (*domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.rooms {
		if r.Code == code {
			return nil, errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("room code %s already in use", code))
		}
	}

	r := &domain.Room{
		RoomID:     uuid.NewString(),
		Code:       code,
		Phase:      domain.PhaseLobby,
		CreateTime: m.now(),
	}
	m.rooms[r.RoomID] = r
	cp := *r
	return &cp, nil
}

func (m *Memory) RoomByID(_ context.Context, roomID string) (*domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("room %s not found", roomID))
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) RoomByCode(_ context.Context, code string) (*domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.rooms {
		if r.Code == code {
			cp := *r
			return &cp, nil
		}
	}
	return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("room code %s not found", code))
}

func (m *Memory) UpdateRoom(_ context.Context, roomID string, patch RoomPatch) (*domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("room %s not found", roomID))
	}
	if patch.Phase != nil {
		r.Phase = *patch.Phase
	}
	if patch.QuestionIndex != nil {
		r.QuestionIndex = *patch.QuestionIndex
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) AddPlayer(_ context.Context, roomID, name string, isHost bool) (*domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[roomID]; !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("room %s not found", roomID))
	}

	p := &domain.Player{
		PlayerID: uuid.NewString(),
		RoomID:   roomID,
		Name:     name,
		IsHost:   isHost,
		JoinTime: m.now(),
	}
	m.players[p.PlayerID] = p
	cp := *p
	return &cp, nil
}

func (m *Memory) PlayerByID(_ context.Context, playerID string) (*domain.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.players[playerID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("player %s not found", playerID))
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) ListPlayers(_ context.Context, roomID string) ([]domain.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ps []domain.Player
	for _, p := range m.players {
		if p.RoomID == roomID {
			ps = append(ps, *p)
		}
	}
	sortPlayers(ps)
	return ps, nil
}

func (m *Memory) CountPlayers(_ context.Context, roomID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, p := range m.players {
		if p.RoomID == roomID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) AddPlayerScore(_ context.Context, playerID string, delta int) (*domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[playerID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("player %s not found", playerID))
	}
	p.Score += delta
	cp := *p
	return &cp, nil
}

func (m *Memory) ReplaceQuestions(_ context.Context, roomID string, qs []domain.Question) ([]domain.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[roomID]; !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("room %s not found", roomID))
	}

	for id, q := range m.questions {
		if q.RoomID == roomID {
			delete(m.questions, id)
		}
	}

	out := make([]domain.Question, 0, len(qs))
	for i, q := range qs {
		q.QuestionID = uuid.NewString()
		q.RoomID = roomID
		q.Number = i
		m.questions[q.QuestionID] = &q
		out = append(out, q)
	}
	return out, nil
}

func (m *Memory) ListQuestions(_ context.Context, roomID string) ([]domain.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var qs []domain.Question
	for _, q := range m.questions {
		if q.RoomID == roomID {
			qs = append(qs, *q)
		}
	}
	sortQuestions(qs)
	return qs, nil
}

func (m *Memory) InsertAnswer(_ context.Context, a domain.Answer) (*domain.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ex := range m.answers {
		if ex.PlayerID == a.PlayerID && ex.QuestionID == a.QuestionID {
			return nil, errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("answer already submitted: player=%s question=%s", a.PlayerID, a.QuestionID))
		}
	}

	a.AnswerID = uuid.NewString()
	if a.SubmitTime.IsZero() {
		a.SubmitTime = m.now()
	}
	m.answers[a.AnswerID] = &a
	cp := a
	return &cp, nil
}

func (m *Memory) CountAnswers(_ context.Context, questionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, a := range m.answers {
		if a.QuestionID == questionID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListAnswers(_ context.Context, roomID string) ([]domain.Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	qids := make(map[string]bool)
	for _, q := range m.questions {
		if q.RoomID == roomID {
			qids[q.QuestionID] = true
		}
	}

	var as []domain.Answer
	for _, a := range m.answers {
		if qids[a.QuestionID] {
			as = append(as, *a)
		}
	}
	return as, nil
}

func (m *Memory) Leaderboard(ctx context.Context, roomID string) ([]domain.LeaderboardEntry, error) {
	ps, err := m.ListPlayers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	as, err := m.ListAnswers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return game.Rank(ps, as), nil
}

func (m *Memory) ResetRoom(_ context.Context, roomID string) (*domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("room %s not found", roomID))
	}

	for id, q := range m.questions {
		if q.RoomID == roomID {
			for aid, a := range m.answers {
				if a.QuestionID == q.QuestionID {
					delete(m.answers, aid)
				}
			}
			delete(m.questions, id)
		}
	}
	for _, p := range m.players {
		if p.RoomID == roomID {
			p.Score = 0
		}
	}

	r.Phase = domain.PhaseLobby
	r.QuestionIndex = 0
	cp := *r
	return &cp, nil
}

// Join time orders the roster; the player ID breaks exact ties so the order
// is stable across reads.
func sortPlayers(ps []domain.Player) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].JoinTime.Equal(ps[j].JoinTime) {
			return ps[i].JoinTime.Before(ps[j].JoinTime)
		}
		return ps[i].PlayerID < ps[j].PlayerID
	})
}

func sortQuestions(qs []domain.Question) {
	sort.Slice(qs, func(i, j int) bool { return qs[i].Number < qs[j].Number })
}
