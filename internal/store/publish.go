package store

import (
	"context"

	"github.com/Ludge/goal-gala-quiz-time/internal/domain"
	"github.com/Ludge/goal-gala-quiz-time/internal/event"
)

// Published decorates a Store so every successful mutation emits a change
// event on the bus. The feed notifier turns those into per-room change-feed
// messages, mirroring how the record store and the notification transport are
// coupled. Reads pass straight through.
type Published struct {
	Store
	bus *event.Bus
}

func NewPublished(inner Store, bus *event.Bus) *Published {
	return &Published{Store: inner, bus: bus}
}

func (s *Published) CreateRoom(ctx context.Context, code string) (*domain.Room, error) {
	r, err := s.Store.CreateRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(ctx, domain.EventRoomChanged{Kind: domain.ChangeInserted, After: r})
	return r, nil
}

func (s *Published) UpdateRoom(ctx context.Context, roomID string, patch RoomPatch) (*domain.Room, error) {
	// Best-effort before image; the read and the write are not atomic.
	before, _ := s.Store.RoomByID(ctx, roomID)

	r, err := s.Store.UpdateRoom(ctx, roomID, patch)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(ctx, domain.EventRoomChanged{Kind: domain.ChangeUpdated, Before: before, After: r})
	return r, nil
}

func (s *Published) AddPlayer(ctx context.Context, roomID, name string, isHost bool) (*domain.Player, error) {
	p, err := s.Store.AddPlayer(ctx, roomID, name, isHost)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(ctx, domain.EventPlayerChanged{Kind: domain.ChangeInserted, After: p})
	return p, nil
}

func (s *Published) AddPlayerScore(ctx context.Context, playerID string, delta int) (*domain.Player, error) {
	p, err := s.Store.AddPlayerScore(ctx, playerID, delta)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(ctx, domain.EventPlayerChanged{Kind: domain.ChangeUpdated, After: p})
	return p, nil
}

func (s *Published) InsertAnswer(ctx context.Context, a domain.Answer) (*domain.Answer, error) {
	out, err := s.Store.InsertAnswer(ctx, a)
	if err != nil {
		return nil, err
	}

	roomID := ""
	if p, pErr := s.Store.PlayerByID(ctx, out.PlayerID); pErr == nil {
		roomID = p.RoomID
	}
	s.bus.Publish(ctx, domain.EventAnswerSubmitted{RoomID: roomID, Answer: *out})
	return out, nil
}

func (s *Published) ResetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	before, _ := s.Store.RoomByID(ctx, roomID)

	r, err := s.Store.ResetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(ctx, domain.EventRoomChanged{Kind: domain.ChangeUpdated, Before: before, After: r})
	return r, nil
}
