package feed

import (
	"context"
	"fmt"

	"github.com/Ludge/goal-gala-quiz-time/internal/domain"
	"github.com/Ludge/goal-gala-quiz-time/internal/event"
)

// Notifier bridges the store's in-process change events onto the feed. It is
// the only writer of the per-room channels.
type Notifier struct {
	pub Publisher
}

func NewNotifier(bus *event.Bus, pub Publisher) *Notifier {
	n := &Notifier{pub: pub}

	bus.Subscribe(domain.EventNameRoomChanged, func(ctx context.Context, e event.Event) error {
		return n.roomChanged(ctx, e.(domain.EventRoomChanged))
	})
	bus.Subscribe(domain.EventNamePlayerChanged, func(ctx context.Context, e event.Event) error {
		return n.playerChanged(ctx, e.(domain.EventPlayerChanged))
	})
	bus.Subscribe(domain.EventNameAnswerSubmitted, func(ctx context.Context, e event.Event) error {
		return n.answerSubmitted(ctx, e.(domain.EventAnswerSubmitted))
	})

	return n
}

func (n *Notifier) roomChanged(ctx context.Context, e domain.EventRoomChanged) error {
	roomID := e.RoomID()
	if roomID == "" {
		return fmt.Errorf("notifier: room change without room identity")
	}
	return n.pub.PublishRoom(ctx, roomID, RoomChange{Kind: e.Kind, Before: e.Before, After: e.After})
}

func (n *Notifier) playerChanged(ctx context.Context, e domain.EventPlayerChanged) error {
	roomID := e.RoomID()
	if roomID == "" {
		return fmt.Errorf("notifier: player change without room identity")
	}
	return n.pub.PublishPlayer(ctx, roomID, PlayerChange{Kind: e.Kind, Before: e.Before, After: e.After})
}

func (n *Notifier) answerSubmitted(ctx context.Context, e domain.EventAnswerSubmitted) error {
	if e.RoomID == "" {
		return fmt.Errorf("notifier: answer event without room identity")
	}
	a := e.Answer
	return n.pub.PublishAnswer(ctx, e.RoomID, AnswerChange{Kind: domain.ChangeInserted, After: &a})
}
