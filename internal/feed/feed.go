// Package feed is the best-effort change-notification transport. Delivery is
// at-least-once per connected subscriber, unordered across keys, and can stop
// silently; subscribers learn about a dead subscription only through the
// status callback. Consumers must always re-derive what to do from the
// authoritative store, never from a sequence of deltas.
package feed

import (
	"context"

	"github.com/Ludge/goal-gala-quiz-time/internal/domain"
	"github.com/Ludge/goal-gala-quiz-time/internal/errors"
)

// RoomChange is a tagged change to the room row. Before is best-effort and
// may be nil even for updates.
type RoomChange struct {
	Kind   domain.ChangeKind
	Before *domain.Room
	After  *domain.Room
}

type PlayerChange struct {
	Kind   domain.ChangeKind
	Before *domain.Player
	After  *domain.Player
}

// AnswerChange only ever carries inserts; answer rows are append-only.
type AnswerChange struct {
	Kind  domain.ChangeKind
	After *domain.Answer
}

// Handlers receives deliveries for one subscription. Nil handlers are
// skipped. OnStatus fires once when the subscription dies; the feed does not
// resubscribe on its own; the pull watchdog bounds the resulting staleness.
type Handlers struct {
	OnRoom   func(RoomChange)
	OnPlayer func(PlayerChange)
	OnAnswer func(AnswerChange)
	OnStatus func(error)
}

// Feed is the per-room change-notification transport.
type Feed interface {
	Subscribe(ctx context.Context, roomID string, h Handlers) (Subscription, error)
}

type Subscription interface {
	Unsubscribe() error
}

// Publisher is the write side, fed by the store's change events.
type Publisher interface {
	PublishRoom(ctx context.Context, roomID string, c RoomChange) error
	PublishPlayer(ctx context.Context, roomID string, c PlayerChange) error
	PublishAnswer(ctx context.Context, roomID string, c AnswerChange) error
}

func validKind(k domain.ChangeKind) bool {
	switch k {
	case domain.ChangeInserted, domain.ChangeUpdated, domain.ChangeDeleted:
		return true
	}
	return false
}

func (c RoomChange) validate() error {
	if !validKind(c.Kind) {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("room change: unknown kind %q", c.Kind))
	}
	if c.Kind != domain.ChangeDeleted && c.After == nil {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("room change %s: missing after record", c.Kind))
	}
	if c.After != nil && !c.After.Phase.Valid() {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("room change: unknown phase %q", c.After.Phase))
	}
	return nil
}

func (c PlayerChange) validate() error {
	if !validKind(c.Kind) {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("player change: unknown kind %q", c.Kind))
	}
	if c.Kind != domain.ChangeDeleted && c.After == nil {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("player change %s: missing after record", c.Kind))
	}
	return nil
}

func (c AnswerChange) validate() error {
	if c.Kind != domain.ChangeInserted {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("answer change: kind %q not allowed", c.Kind))
	}
	if c.After == nil {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("answer change: missing after record"))
	}
	return nil
}
