package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ludge/goal-gala-quiz-time/internal/domain"
	"github.com/Ludge/goal-gala-quiz-time/internal/errors"
	"github.com/Ludge/goal-gala-quiz-time/internal/feed"
	"github.com/Ludge/goal-gala-quiz-time/internal/game"
	"github.com/Ludge/goal-gala-quiz-time/internal/store"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeFeed hands the subscriber's handlers back to the test so deliveries
// (and lost deliveries) are under test control.
type fakeFeed struct {
	mu sync.Mutex
	h  feed.Handlers
}

func (f *fakeFeed) Subscribe(_ context.Context, _ string, h feed.Handlers) (feed.Subscription, error) {
	f.mu.Lock()
	f.h = h
	f.mu.Unlock()
	return nopSub{}, nil
}

func (f *fakeFeed) deliverRoom(c feed.RoomChange) {
	f.mu.Lock()
	h := f.h
	f.mu.Unlock()
	if h.OnRoom != nil {
		h.OnRoom(c)
	}
}

func (f *fakeFeed) deliverAnswer(c feed.AnswerChange) {
	f.mu.Lock()
	h := f.h
	f.mu.Unlock()
	if h.OnAnswer != nil {
		h.OnAnswer(c)
	}
}

type nopSub struct{}

func (nopSub) Unsubscribe() error { return nil }

type fixture struct {
	engine *Engine
	store  *store.Memory
	feed   *fakeFeed
	clock  *clockwork.FakeClock
	room   *domain.Room
	player *domain.Player
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s := store.NewMemory()
	room, err := s.CreateRoom(ctx, game.NewJoinCode())
	require.NoError(t, err)
	_, err = s.AddPlayer(ctx, room.RoomID, "host", true)
	require.NoError(t, err)
	player, err := s.AddPlayer(ctx, room.RoomID, "guest", false)
	require.NoError(t, err)

	qs := make([]domain.Question, 3)
	for i := range qs {
		qs[i] = domain.Question{
			Text:          "question",
			Options:       []string{"a", "b", "c", "d"},
			CorrectOption: 2,
		}
	}
	_, err = s.ReplaceQuestions(ctx, room.RoomID, qs)
	require.NoError(t, err)

	f := &fixture{
		store:  s,
		feed:   &fakeFeed{},
		clock:  clockwork.NewFakeClock(),
		room:   room,
		player: player,
	}
	f.engine = NewEngine(Config{
		Store:    s,
		Feed:     f.feed,
		Clock:    f.clock,
		RoomID:   room.RoomID,
		PlayerID: player.PlayerID,
	})
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.engine.Start(context.Background()))
	t.Cleanup(f.engine.Stop)
}

// setPhase writes the transition directly to the store, bypassing the feed:
// from the client's perspective this is a lost notification.
func (f *fixture) setPhase(t *testing.T, phase domain.Phase, index int) *domain.Room {
	t.Helper()
	room, err := f.store.UpdateRoom(context.Background(), f.room.RoomID,
		store.RoomPatch{Phase: &phase, QuestionIndex: &index})
	require.NoError(t, err)
	return room
}

func TestStartSyncsView(t *testing.T) {
	f := newFixture(t)
	f.setPhase(t, domain.PhaseQuestion, 1)
	f.start(t)

	v := f.engine.Snapshot()
	assert.Equal(t, domain.PhaseQuestion, v.Phase)
	assert.Equal(t, 1, v.QuestionIndex)
	require.NotNil(t, v.Question)
	assert.Equal(t, 1, v.Question.Number)
	assert.Len(t, v.Players, 2)
	assert.False(t, v.Answered)
}

func TestPushUpdatesView(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	room := f.setPhase(t, domain.PhaseQuestion, 0)
	f.feed.deliverRoom(feed.RoomChange{Kind: domain.ChangeUpdated, After: room})

	assert.Eventually(t, func() bool {
		v := f.engine.Snapshot()
		return v.Phase == domain.PhaseQuestion && v.Question != nil
	}, waitFor, tick)
}

func TestStaleRoomDeliveryDoesNotRegressView(t *testing.T) {
	f := newFixture(t)
	stale := f.setPhase(t, domain.PhaseQuestion, 0)
	f.start(t)

	room := f.setPhase(t, domain.PhaseLeaderboard, 0)
	f.feed.deliverRoom(feed.RoomChange{Kind: domain.ChangeUpdated, After: room})
	require.Eventually(t, func() bool {
		return f.engine.Snapshot().Phase == domain.PhaseLeaderboard
	}, waitFor, tick)

	// An out-of-order delivery of the earlier question_active row arrives
	// late. The view follows the store, not the payload.
	f.feed.deliverRoom(feed.RoomChange{Kind: domain.ChangeUpdated, After: stale})
	assert.Never(t, func() bool {
		return f.engine.Snapshot().Phase == domain.PhaseQuestion
	}, 200*time.Millisecond, tick)
	assert.Equal(t, 0, f.engine.Snapshot().QuestionIndex)
}

func TestPollWatchdogRepairsMissedTransition(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	// Transition happens in the store but the notification never arrives.
	f.setPhase(t, domain.PhaseQuestion, 0)
	require.Equal(t, domain.PhaseLobby, f.engine.Snapshot().Phase)

	f.clock.BlockUntil(1)
	f.clock.Advance(game.DefaultTiming().PollInterval)

	assert.Eventually(t, func() bool {
		v := f.engine.Snapshot()
		return v.Phase == domain.PhaseQuestion && v.QuestionIndex == 0
	}, waitFor, tick)
}

func TestSubmitAnswer(t *testing.T) {
	f := newFixture(t)
	f.setPhase(t, domain.PhaseQuestion, 0)
	f.start(t)

	a, err := f.engine.SubmitAnswer(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, a.Correct)

	v := f.engine.Snapshot()
	assert.True(t, v.Answered)
	assert.Greater(t, v.Score, 0)

	// One answer per player per question.
	_, err = f.engine.SubmitAnswer(context.Background(), 1)
	assert.True(t, errors.Is(err, errors.CodeAlreadyExists))
}

func TestSubmitAnswerOutsideQuestionPhase(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	_, err := f.engine.SubmitAnswer(context.Background(), 0)
	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition))
}

func TestSubmitAnswerOptionOutOfRange(t *testing.T) {
	f := newFixture(t)
	f.setPhase(t, domain.PhaseQuestion, 0)
	f.start(t)

	_, err := f.engine.SubmitAnswer(context.Background(), 7)
	assert.True(t, errors.Is(err, errors.CodeInvalidArgument))
}

func TestCountdownSubmitsTimeoutAnswer(t *testing.T) {
	f := newFixture(t)
	f.setPhase(t, domain.PhaseQuestion, 0)
	f.start(t)

	// Poll ticker plus the question countdown are both waiting.
	f.clock.BlockUntil(2)
	f.clock.Advance(game.DefaultTiming().QuestionTime)

	assert.Eventually(t, func() bool {
		return f.engine.Snapshot().Answered
	}, waitFor, tick)

	answers, err := f.store.ListAnswers(context.Background(), f.room.RoomID)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, domain.SentinelOption, answers[0].SelectedOption)
	assert.False(t, answers[0].Correct)
	assert.Equal(t, 0, f.engine.Snapshot().Score)
}

func TestStuckWatchdogMarksStall(t *testing.T) {
	f := newFixture(t)
	f.setPhase(t, domain.PhaseQuestion, 0)
	f.start(t)

	_, err := f.engine.SubmitAnswer(context.Background(), 2)
	require.NoError(t, err)

	// Wait until the stuck timer joins the poll ticker and the countdown.
	f.clock.BlockUntil(3)

	// Nobody advances the room. The countdown fires first (a no-op, we
	// answered), then the stuck timeout.
	f.clock.Advance(game.DefaultTiming().StuckTimeout)

	assert.Eventually(t, func() bool {
		return f.engine.Snapshot().Stalled
	}, waitFor, tick)

	// The view stayed consistent with the store.
	v := f.engine.Snapshot()
	assert.Equal(t, domain.PhaseQuestion, v.Phase)
	assert.Equal(t, 0, v.QuestionIndex)
}

func TestStuckWatchdogClearedByAdvance(t *testing.T) {
	f := newFixture(t)
	f.setPhase(t, domain.PhaseQuestion, 0)
	f.start(t)

	_, err := f.engine.SubmitAnswer(context.Background(), 2)
	require.NoError(t, err)
	f.clock.BlockUntil(3)

	// The host advances and the notification arrives normally.
	room := f.setPhase(t, domain.PhaseLeaderboard, 0)
	f.feed.deliverRoom(feed.RoomChange{Kind: domain.ChangeUpdated, After: room})

	assert.Eventually(t, func() bool {
		return f.engine.Snapshot().Phase == domain.PhaseLeaderboard
	}, waitFor, tick)

	// The stuck timer was disarmed; advancing far past it changes nothing.
	f.clock.Advance(2 * game.DefaultTiming().StuckTimeout)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, f.engine.Snapshot().Stalled)
}

func TestAnswerTallyDeduplicatesRedelivery(t *testing.T) {
	f := newFixture(t)
	f.setPhase(t, domain.PhaseQuestion, 0)
	f.start(t)

	v := f.engine.Snapshot()
	require.NotNil(t, v.Question)
	a := &domain.Answer{
		AnswerID:       "a-1",
		PlayerID:       f.player.PlayerID,
		QuestionID:     v.Question.QuestionID,
		SelectedOption: 2,
	}

	// At-least-once delivery: the same insert arrives three times.
	for i := 0; i < 3; i++ {
		f.feed.deliverAnswer(feed.AnswerChange{Kind: domain.ChangeInserted, After: a})
	}

	assert.Eventually(t, func() bool {
		return f.engine.Snapshot().AnswersIn == 1
	}, waitFor, tick)
}

func TestLeaderboardFetchedOnPhaseEntry(t *testing.T) {
	f := newFixture(t)
	f.setPhase(t, domain.PhaseQuestion, 0)
	f.start(t)

	_, err := f.engine.SubmitAnswer(context.Background(), 2)
	require.NoError(t, err)

	room := f.setPhase(t, domain.PhaseLeaderboard, 0)
	f.feed.deliverRoom(feed.RoomChange{Kind: domain.ChangeUpdated, After: room})

	assert.Eventually(t, func() bool {
		lb := f.engine.Snapshot().Leaderboard
		return len(lb) == 2 && lb[0].PlayerID == f.player.PlayerID && lb[0].Correct == 1
	}, waitFor, tick)
}

func TestLobbyResetClearsView(t *testing.T) {
	f := newFixture(t)
	f.setPhase(t, domain.PhaseQuestion, 0)
	f.start(t)

	_, err := f.engine.SubmitAnswer(context.Background(), 2)
	require.NoError(t, err)

	_, err = f.store.ResetRoom(context.Background(), f.room.RoomID)
	require.NoError(t, err)
	room, err := f.store.RoomByID(context.Background(), f.room.RoomID)
	require.NoError(t, err)
	f.feed.deliverRoom(feed.RoomChange{Kind: domain.ChangeUpdated, After: room})

	assert.Eventually(t, func() bool {
		v := f.engine.Snapshot()
		return v.Phase == domain.PhaseLobby && v.Question == nil &&
			!v.Answered && v.Score == 0 && len(v.Leaderboard) == 0
	}, waitFor, tick)
}
