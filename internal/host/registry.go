package host

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/Ludge/goal-gala-quiz-time/internal/errors"
	"github.com/Ludge/goal-gala-quiz-time/internal/feed"
	"github.com/Ludge/goal-gala-quiz-time/internal/game"
	"github.com/Ludge/goal-gala-quiz-time/internal/store"
)

// Registry owns the live drivers, at most one per room. The API layer starts
// a driver when the host starts the game and the registry reaps it when the
// game ends or resets.
type Registry struct {
	store     store.Store
	feed      feed.Feed
	questions QuestionSource
	clock     clockwork.Clock
	timing    game.Timing

	mu      sync.Mutex
	drivers map[string]*Driver
}

func NewRegistry(s store.Store, f feed.Feed, q QuestionSource, timing game.Timing) *Registry {
	return &Registry{
		store:     s,
		feed:      f,
		questions: q,
		clock:     clockwork.NewRealClock(),
		timing:    timing,
		drivers:   make(map[string]*Driver),
	}
}

// StartGame creates and starts a driver for the room. A second start while a
// driver is live fails with AlreadyExists; the caller retries after a reset.
func (r *Registry) StartGame(ctx context.Context, roomID, playerID string) error {
	r.mu.Lock()
	if _, ok := r.drivers[roomID]; ok {
		r.mu.Unlock()
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("room %s already has a running game", roomID))
	}
	d := NewDriver(Config{
		Store:     r.store,
		Feed:      r.feed,
		Questions: r.questions,
		Clock:     r.clock,
		Timing:    r.timing,
		RoomID:    roomID,
		PlayerID:  playerID,
	})
	r.drivers[roomID] = d
	r.mu.Unlock()

	// The loop must outlive the request that started it.
	if err := d.StartGame(context.WithoutCancel(ctx)); err != nil {
		r.remove(roomID)
		return err
	}

	go func() {
		d.Wait()
		r.remove(roomID)
	}()
	return nil
}

// Reset tears down the room's driver, if any, and resets the room record.
// Works with no driver too: a restarted process can still unstick a room.
func (r *Registry) Reset(ctx context.Context, roomID, playerID string) error {
	r.mu.Lock()
	d := r.drivers[roomID]
	r.mu.Unlock()

	if d != nil {
		if err := d.Reset(ctx); err != nil {
			return err
		}
		r.remove(roomID)
		return nil
	}

	p, err := r.store.PlayerByID(ctx, playerID)
	if err != nil {
		return err
	}
	if p.RoomID != roomID || !p.IsHost {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("player %s is not the host of room %s", playerID, roomID))
	}
	_, err = r.store.ResetRoom(ctx, roomID)
	return err
}

// Shutdown stops every live driver.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	drivers := make([]*Driver, 0, len(r.drivers))
	for _, d := range r.drivers {
		drivers = append(drivers, d)
	}
	r.drivers = make(map[string]*Driver)
	r.mu.Unlock()

	for _, d := range drivers {
		d.Stop()
	}
}

func (r *Registry) remove(roomID string) {
	r.mu.Lock()
	delete(r.drivers, roomID)
	r.mu.Unlock()
}
