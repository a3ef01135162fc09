package host

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ludge/goal-gala-quiz-time/internal/domain"
	"github.com/Ludge/goal-gala-quiz-time/internal/errors"
	"github.com/Ludge/goal-gala-quiz-time/internal/feed"
	"github.com/Ludge/goal-gala-quiz-time/internal/game"
	"github.com/Ludge/goal-gala-quiz-time/internal/store"
)

type nopFeed struct{}

func (nopFeed) Subscribe(context.Context, string, feed.Handlers) (feed.Subscription, error) {
	return nopSub{}, nil
}

type nopSub struct{}

func (nopSub) Unsubscribe() error { return nil }

type staticQuestions struct{ err error }

func (s staticQuestions) Generate(_ context.Context, count int) ([]domain.Question, error) {
	if s.err != nil {
		return nil, s.err
	}
	qs := make([]domain.Question, count)
	for i := range qs {
		qs[i] = domain.Question{
			Text:          "question",
			Options:       []string{"a", "b", "c", "d"},
			CorrectOption: 1,
		}
	}
	return qs, nil
}

type fixture struct {
	driver  *Driver
	store   *store.Memory
	clock   *clockwork.FakeClock
	room    *domain.Room
	host    *domain.Player
	players []*domain.Player
}

// newFixture creates a room with a host plus extra players, starts the game
// and immediately stops the background loop so the test drives every step
// itself.
func newFixture(t *testing.T, extraPlayers int) *fixture {
	t.Helper()
	ctx := context.Background()

	s := store.NewMemory()
	room, err := s.CreateRoom(ctx, game.NewJoinCode())
	require.NoError(t, err)
	hostPlayer, err := s.AddPlayer(ctx, room.RoomID, "host", true)
	require.NoError(t, err)

	f := &fixture{store: s, clock: clockwork.NewFakeClock(), room: room, host: hostPlayer}
	for i := 0; i < extraPlayers; i++ {
		p, err := s.AddPlayer(ctx, room.RoomID, string(rune('a'+i)), false)
		require.NoError(t, err)
		f.players = append(f.players, p)
	}

	f.driver = NewDriver(Config{
		Store:     s,
		Feed:      nopFeed{},
		Questions: staticQuestions{},
		Clock:     f.clock,
		Timing:    game.Timing{QuestionCount: 3},
		RoomID:    room.RoomID,
		PlayerID:  hostPlayer.PlayerID,
	})
	require.NoError(t, f.driver.StartGame(ctx))
	f.driver.Stop()
	return f
}

func (f *fixture) answer(t *testing.T, playerID string, option int) {
	t.Helper()
	ctx := context.Background()
	room, err := f.store.RoomByID(ctx, f.room.RoomID)
	require.NoError(t, err)
	q := f.driver.questions[room.QuestionIndex]
	_, err = f.store.InsertAnswer(ctx, domain.Answer{
		PlayerID:       playerID,
		QuestionID:     q.QuestionID,
		SelectedOption: option,
		ElapsedMs:      1000,
		Correct:        option == q.CorrectOption,
	})
	require.NoError(t, err)
}

func (f *fixture) phase(t *testing.T) (domain.Phase, int) {
	t.Helper()
	room, err := f.store.RoomByID(context.Background(), f.room.RoomID)
	require.NoError(t, err)
	return room.Phase, room.QuestionIndex
}

func TestStartGame(t *testing.T) {
	f := newFixture(t, 1)

	phase, index := f.phase(t)
	assert.Equal(t, domain.PhaseQuestion, phase)
	assert.Equal(t, 0, index)

	qs, err := f.store.ListQuestions(context.Background(), f.room.RoomID)
	require.NoError(t, err)
	assert.Len(t, qs, 3)
}

func TestStartGameNotHost(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	room, err := s.CreateRoom(ctx, game.NewJoinCode())
	require.NoError(t, err)
	_, err = s.AddPlayer(ctx, room.RoomID, "host", true)
	require.NoError(t, err)
	guest, err := s.AddPlayer(ctx, room.RoomID, "guest", false)
	require.NoError(t, err)

	d := NewDriver(Config{
		Store: s, Feed: nopFeed{}, Questions: staticQuestions{},
		Clock:  clockwork.NewFakeClock(),
		RoomID: room.RoomID, PlayerID: guest.PlayerID,
	})
	err = d.StartGame(ctx)
	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition))

	phase, _ := mustRoom(t, s, room.RoomID)
	assert.Equal(t, domain.PhaseLobby, phase)
}

func TestStartGameGeneratorFailure(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	room, err := s.CreateRoom(ctx, game.NewJoinCode())
	require.NoError(t, err)
	hostPlayer, err := s.AddPlayer(ctx, room.RoomID, "host", true)
	require.NoError(t, err)

	d := NewDriver(Config{
		Store: s, Feed: nopFeed{},
		Questions: staticQuestions{err: errors.New(errors.CodeUnavailable)},
		Clock:     clockwork.NewFakeClock(),
		RoomID:    room.RoomID, PlayerID: hostPlayer.PlayerID,
	})
	err = d.StartGame(ctx)
	assert.Error(t, err)

	// The room falls back to the lobby instead of stranding in preparing.
	phase, _ := mustRoom(t, s, room.RoomID)
	assert.Equal(t, domain.PhaseLobby, phase)
}

func TestQuorumAdvance(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	// Two of three answered: no quorum yet.
	f.answer(t, f.host.PlayerID, 1)
	f.answer(t, f.players[0].PlayerID, 2)
	f.driver.evaluate(ctx)
	phase, _ := f.phase(t)
	assert.Equal(t, domain.PhaseQuestion, phase)

	// Last player answers: advance on the next evaluation.
	f.answer(t, f.players[1].PlayerID, 0)
	f.driver.evaluate(ctx)
	phase, index := f.phase(t)
	assert.Equal(t, domain.PhaseLeaderboard, phase)
	assert.Equal(t, 0, index)
}

func TestDuplicateNotificationsAdvanceOnce(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	f.answer(t, f.host.PlayerID, 1)
	f.driver.evaluate(ctx)
	phase, _ := f.phase(t)
	require.Equal(t, domain.PhaseLeaderboard, phase)

	// Redelivered answer notifications re-trigger evaluation; the phase and
	// index must not move again.
	f.driver.evaluate(ctx)
	f.driver.advanceToLeaderboard(ctx, 0, "quorum")
	phase, index := f.phase(t)
	assert.Equal(t, domain.PhaseLeaderboard, phase)
	assert.Equal(t, 0, index)
}

func TestCountdownExpiry(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	// Only the guest answered when the countdown runs out.
	f.answer(t, f.players[0].PlayerID, 2)
	f.clock.Advance(f.driver.timing.QuestionTime)
	f.driver.evaluate(ctx)

	phase, index := f.phase(t)
	assert.Equal(t, domain.PhaseLeaderboard, phase)
	assert.Equal(t, 0, index)

	// The host got a timeout answer so the question's tally is complete.
	q := f.driver.questions[0]
	n, err := f.store.CountAnswers(ctx, q.QuestionID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	answers, err := f.store.ListAnswers(ctx, f.room.RoomID)
	require.NoError(t, err)
	var sentinel *domain.Answer
	for i := range answers {
		if answers[i].PlayerID == f.host.PlayerID {
			sentinel = &answers[i]
		}
	}
	require.NotNil(t, sentinel)
	assert.Equal(t, domain.SentinelOption, sentinel.SelectedOption)
	assert.False(t, sentinel.Correct)
}

func TestCountdownAfterAdvanceRecordsNoSentinel(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	f.answer(t, f.host.PlayerID, 1)
	f.driver.evaluate(ctx)
	phase, _ := f.phase(t)
	require.Equal(t, domain.PhaseLeaderboard, phase)

	// The quorum advance replaced the countdown with the leaderboard
	// delay; running past the old countdown deadline must not insert a
	// sentinel for the already-closed question.
	f.clock.Advance(f.driver.timing.QuestionTime)
	f.driver.evaluate(ctx)

	n, err := f.store.CountAnswers(ctx, f.driver.questions[0].QuestionID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLeaderboardAdvancesToNextQuestion(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	f.answer(t, f.host.PlayerID, 1)
	f.driver.evaluate(ctx)

	// Before the display delay elapses the leaderboard holds.
	assert.False(t, f.driver.evaluate(ctx))
	phase, index := f.phase(t)
	require.Equal(t, domain.PhaseLeaderboard, phase)
	require.Equal(t, 0, index)

	f.clock.Advance(f.driver.timing.LeaderboardTime)
	finished := f.driver.evaluate(ctx)
	assert.False(t, finished)

	phase, index = f.phase(t)
	assert.Equal(t, domain.PhaseQuestion, phase)
	assert.Equal(t, 1, index)
}

func TestFullGameFinishes(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.answer(t, f.host.PlayerID, 1)
		f.driver.evaluate(ctx)
		phase, index := f.phase(t)
		require.Equal(t, domain.PhaseLeaderboard, phase)
		require.Equal(t, i, index)

		f.clock.Advance(f.driver.timing.LeaderboardTime)
		finished := f.driver.evaluate(ctx)
		assert.Equal(t, i == 2, finished)
	}

	phase, index := f.phase(t)
	assert.Equal(t, domain.PhaseFinished, phase)
	assert.Equal(t, 3, index)

	// A finished room is terminal for the loop.
	assert.True(t, f.driver.evaluate(ctx))
}

func TestReset(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	f.answer(t, f.host.PlayerID, 1)
	require.NoError(t, f.driver.Reset(ctx))

	phase, index := f.phase(t)
	assert.Equal(t, domain.PhaseLobby, phase)
	assert.Equal(t, 0, index)

	qs, err := f.store.ListQuestions(ctx, f.room.RoomID)
	require.NoError(t, err)
	assert.Empty(t, qs)
	answers, err := f.store.ListAnswers(ctx, f.room.RoomID)
	require.NoError(t, err)
	assert.Empty(t, answers)
}

// flakyStore fails a limited number of room reads before delegating to the
// real store.
type flakyStore struct {
	store.Store
	failReads int
}

func (s *flakyStore) RoomByID(ctx context.Context, roomID string) (*domain.Room, error) {
	if s.failReads > 0 {
		s.failReads--
		return nil, errors.New(errors.CodeUnavailable)
	}
	return s.Store.RoomByID(ctx, roomID)
}

func newFlakyFixture(t *testing.T) (*flakyStore, *fixture) {
	t.Helper()
	ctx := context.Background()

	mem := store.NewMemory()
	room, err := mem.CreateRoom(ctx, game.NewJoinCode())
	require.NoError(t, err)
	hostPlayer, err := mem.AddPlayer(ctx, room.RoomID, "host", true)
	require.NoError(t, err)

	fs := &flakyStore{Store: mem}
	f := &fixture{store: mem, clock: clockwork.NewFakeClock(), room: room, host: hostPlayer}
	f.driver = NewDriver(Config{
		Store:     fs,
		Feed:      nopFeed{},
		Questions: staticQuestions{},
		Clock:     f.clock,
		Timing:    game.Timing{QuestionCount: 3},
		RoomID:    room.RoomID,
		PlayerID:  hostPlayer.PlayerID,
	})
	require.NoError(t, f.driver.StartGame(ctx))
	f.driver.Stop()
	return fs, f
}

func TestLeaderboardDelayRetriedAfterStoreError(t *testing.T) {
	fs, f := newFlakyFixture(t)
	ctx := context.Background()

	f.answer(t, f.host.PlayerID, 1)
	f.driver.evaluate(ctx)
	phase, _ := f.phase(t)
	require.Equal(t, domain.PhaseLeaderboard, phase)

	// The store hiccups exactly when the display delay elapses. The
	// deadline must survive the failed attempt so a later tick still
	// drives the advance.
	f.clock.Advance(f.driver.timing.LeaderboardTime)
	fs.failReads = 1
	assert.False(t, f.driver.evaluate(ctx))
	phase, index := f.phase(t)
	require.Equal(t, domain.PhaseLeaderboard, phase)
	require.Equal(t, 0, index)

	assert.False(t, f.driver.evaluate(ctx))
	phase, index = f.phase(t)
	assert.Equal(t, domain.PhaseQuestion, phase)
	assert.Equal(t, 1, index)
}

func TestCountdownRetriedAfterStoreError(t *testing.T) {
	fs, f := newFlakyFixture(t)
	ctx := context.Background()

	f.clock.Advance(f.driver.timing.QuestionTime)
	fs.failReads = 1
	f.driver.evaluate(ctx)
	phase, _ := f.phase(t)
	require.Equal(t, domain.PhaseQuestion, phase)

	// The retry both records the sentinel and forces the advance.
	f.driver.evaluate(ctx)
	phase, index := f.phase(t)
	assert.Equal(t, domain.PhaseLeaderboard, phase)
	assert.Equal(t, 0, index)

	n, err := f.store.CountAnswers(ctx, f.driver.questions[0].QuestionID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func mustRoom(t *testing.T, s store.Store, roomID string) (domain.Phase, int) {
	t.Helper()
	room, err := s.RoomByID(context.Background(), roomID)
	require.NoError(t, err)
	return room.Phase, room.QuestionIndex
}
