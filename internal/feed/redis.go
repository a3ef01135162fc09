package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/Ludge/goal-gala-quiz-time/internal/domain"
)

// Redis implements Feed and Publisher on one pub/sub channel per room.
// Redis pub/sub gives exactly the contract the engine is designed for:
// delivery to connected subscribers only, no replay, no ordering across
// keys, and a dropped connection loses messages silently.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (f *Redis) channel(roomID string) string {
	return fmt.Sprintf("%s:room:%s:changes", f.prefix, roomID)
}

func (f *Redis) PublishRoom(ctx context.Context, roomID string, c RoomChange) error {
	if err := c.validate(); err != nil {
		return err
	}

	var before, after any
	if c.Before != nil {
		before = roomToWire(c.Before)
	}
	if c.After != nil {
		after = roomToWire(c.After)
	}
	return f.publish(ctx, roomID, entityRoom, c.Kind, before, after)
}

func (f *Redis) PublishPlayer(ctx context.Context, roomID string, c PlayerChange) error {
	if err := c.validate(); err != nil {
		return err
	}

	var before, after any
	if c.Before != nil {
		before = playerToWire(c.Before)
	}
	if c.After != nil {
		after = playerToWire(c.After)
	}
	return f.publish(ctx, roomID, entityPlayer, c.Kind, before, after)
}

func (f *Redis) PublishAnswer(ctx context.Context, roomID string, c AnswerChange) error {
	if err := c.validate(); err != nil {
		return err
	}

	var after any
	if c.After != nil {
		after = answerToWire(c.After)
	}
	return f.publish(ctx, roomID, entityAnswer, c.Kind, nil, after)
}

func (f *Redis) publish(ctx context.Context, roomID, entity string, kind domain.ChangeKind, before, after any) error {
	b, err := marshalEnvelope(entity, kind, before, after)
	if err != nil {
		return fmt.Errorf("feed: marshal %s change: %w", entity, err)
	}

	if err := f.client.Publish(ctx, f.channel(roomID), b).Err(); err != nil {
		return fmt.Errorf("feed: publish %s change: %w", entity, err)
	}
	return nil
}

// Subscribe attaches h to the room's channel. The receive loop runs until the
// connection fails or Unsubscribe is called; on failure OnStatus fires once
// and the subscription is dead. There is no automatic resubscribe.
func (f *Redis) Subscribe(ctx context.Context, roomID string, h Handlers) (Subscription, error) {
	sub := f.client.Subscribe(ctx, f.channel(roomID))

	// Force the SUBSCRIBE round-trip so a broken transport surfaces here
	// rather than as a silent dead loop.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("feed: subscribe room %s: %w", roomID, err)
	}

	s := &redisSubscription{sub: sub, done: make(chan struct{})}
	go s.receive(ctx, roomID, h)
	return s, nil
}

type redisSubscription struct {
	sub  *redis.PubSub
	done chan struct{}
}

func (s *redisSubscription) Unsubscribe() error {
	close(s.done)
	return s.sub.Close()
}

func (s *redisSubscription) receive(ctx context.Context, roomID string, h Handlers) {
	ch := s.sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				select {
				case <-s.done:
					// Deliberate unsubscribe, not a transport error.
				default:
					if h.OnStatus != nil {
						h.OnStatus(fmt.Errorf("feed: subscription closed: room %s", roomID))
					}
				}
				return
			}
			dispatch(roomID, []byte(msg.Payload), h)
		case <-ctx.Done():
			if h.OnStatus != nil {
				h.OnStatus(ctx.Err())
			}
			return
		}
	}
}

// dispatch validates one delivery at the boundary and hands it to the right
// handler. Malformed frames are logged and dropped; the pull watchdog covers
// whatever they were trying to say.
func dispatch(roomID string, payload []byte, h Handlers) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		slog.Error("feed: drop malformed frame", "room_id", roomID, "error", err)
		return
	}

	switch env.Entity {
	case entityRoom:
		before, err1 := decodeWire[wireRoom](env.Before)
		after, err2 := decodeWire[wireRoom](env.After)
		if err1 != nil || err2 != nil {
			slog.Error("feed: drop malformed room change", "room_id", roomID, "error", fmt.Sprint(err1, err2))
			return
		}
		c := RoomChange{Kind: domain.ChangeKind(env.Kind), Before: roomFromWire(before), After: roomFromWire(after)}
		if err := c.validate(); err != nil {
			slog.Error("feed: drop invalid room change", "room_id", roomID, "error", err)
			return
		}
		if h.OnRoom != nil {
			h.OnRoom(c)
		}

	case entityPlayer:
		before, err1 := decodeWire[wirePlayer](env.Before)
		after, err2 := decodeWire[wirePlayer](env.After)
		if err1 != nil || err2 != nil {
			slog.Error("feed: drop malformed player change", "room_id", roomID, "error", fmt.Sprint(err1, err2))
			return
		}
		c := PlayerChange{Kind: domain.ChangeKind(env.Kind), Before: playerFromWire(before), After: playerFromWire(after)}
		if err := c.validate(); err != nil {
			slog.Error("feed: drop invalid player change", "room_id", roomID, "error", err)
			return
		}
		if h.OnPlayer != nil {
			h.OnPlayer(c)
		}

	case entityAnswer:
		after, err := decodeWire[wireAnswer](env.After)
		if err != nil {
			slog.Error("feed: drop malformed answer change", "room_id", roomID, "error", err)
			return
		}
		c := AnswerChange{Kind: domain.ChangeKind(env.Kind), After: answerFromWire(after)}
		if err := c.validate(); err != nil {
			slog.Error("feed: drop invalid answer change", "room_id", roomID, "error", err)
			return
		}
		if h.OnAnswer != nil {
			h.OnAnswer(c)
		}

	default:
		slog.Error("feed: drop unknown entity", "room_id", roomID, "entity", env.Entity)
	}
}
