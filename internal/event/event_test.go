package event_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ludge/goal-gala-quiz-time/internal/event"
)

type named string

func (n named) Name() string { return string(n) }

// recorder collects events per handler name, safe for concurrent handlers.
type recorder struct {
	mu   sync.Mutex
	seen map[string][]event.Event
}

func newRecorder() *recorder {
	return &recorder{seen: make(map[string][]event.Event)}
}

func (r *recorder) handler(name string) event.Handler {
	return func(_ context.Context, e event.Event) error {
		r.mu.Lock()
		r.seen[name] = append(r.seen[name], e)
		r.mu.Unlock()
		return nil
	}
}

func TestBusRoutesByEventName(t *testing.T) {
	b := event.NewBus()
	r := newRecorder()

	b.Subscribe("room.changed", r.handler("rooms"))
	b.Subscribe("room.changed", r.handler("metrics"))
	b.Subscribe("answer.changed", r.handler("answers"))

	ctx := context.Background()
	b.Publish(ctx, named("room.changed"))
	b.Publish(ctx, named("answer.changed"))
	b.Publish(ctx, named("room.changed"))
	b.Publish(ctx, named("player.changed")) // no subscriber
	b.Stop()

	assert.ElementsMatch(t, []event.Event{named("room.changed"), named("room.changed")}, r.seen["rooms"])
	assert.ElementsMatch(t, []event.Event{named("room.changed"), named("room.changed")}, r.seen["metrics"])
	assert.ElementsMatch(t, []event.Event{named("answer.changed")}, r.seen["answers"])
}

func TestBusStopWaitsForHandlers(t *testing.T) {
	b := event.NewBus()

	release := make(chan struct{})
	done := false
	var mu sync.Mutex

	b.Subscribe("slow", func(context.Context, event.Event) error {
		<-release
		mu.Lock()
		done = true
		mu.Unlock()
		return nil
	})

	b.Publish(context.Background(), named("slow"))
	close(release)
	b.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, done)
}

func TestBusSurvivesFailingAndPanickingHandlers(t *testing.T) {
	b := event.NewBus()
	r := newRecorder()

	b.Subscribe("e", func(context.Context, event.Event) error {
		return errors.New("boom")
	})
	b.Subscribe("e", func(context.Context, event.Event) error {
		panic("boom")
	})
	b.Subscribe("e", r.handler("ok"))

	b.Publish(context.Background(), named("e"))
	b.Stop()

	assert.Len(t, r.seen["ok"], 1)
}
