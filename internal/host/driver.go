// Package host is the host-side authority: the only component that writes
// phase transitions. It aggregates answers for the active question, forces
// the advance when the countdown expires, and paces the leaderboard display.
package host

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Ludge/goal-gala-quiz-time/internal/domain"
	"github.com/Ludge/goal-gala-quiz-time/internal/errors"
	"github.com/Ludge/goal-gala-quiz-time/internal/feed"
	"github.com/Ludge/goal-gala-quiz-time/internal/game"
	"github.com/Ludge/goal-gala-quiz-time/internal/store"
	"github.com/Ludge/goal-gala-quiz-time/internal/telemetry"
)

// QuestionSource produces a fresh question set for a game cycle.
type QuestionSource interface {
	Generate(ctx context.Context, count int) ([]domain.Question, error)
}

type Config struct {
	Store     store.Store
	Feed      feed.Feed
	Questions QuestionSource
	Clock     clockwork.Clock
	Timing    game.Timing

	RoomID string
	// PlayerID is the host's own player. Authority is checked against its
	// is_host flag before any transition is driven.
	PlayerID string
}

// Driver runs one room's game loop on behalf of its host. All state below
// the config is owned by the run goroutine; external entry points only read
// the store or signal the loop.
type Driver struct {
	store  store.Store
	feed   feed.Feed
	qsrc   QuestionSource
	clock  clockwork.Clock
	timing game.Timing

	roomID   string
	playerID string

	wakeCh chan struct{}

	// One active timer per concern. The phase timer is replaced, never
	// stacked: entering a phase cancels the previous phase's timer. The
	// deadline outlives the timer handle: it is kept until the transition
	// it drives succeeds, so a transient store failure at expiry is
	// retried on the next wake or fallback tick instead of being lost.
	timer     clockwork.Timer
	timerCh   <-chan time.Time
	timerKind timerKind
	deadline  time.Time

	// advanced records which question indexes already transitioned to the
	// leaderboard, so duplicate notifications cannot double-advance.
	advanced map[int]bool

	questions []domain.Question

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	sub     feed.Subscription
}

type timerKind int

const (
	timerNone timerKind = iota
	timerCountdown
	timerLeaderboard
)

func NewDriver(c Config) *Driver {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return &Driver{
		store:    c.Store,
		feed:     c.Feed,
		qsrc:     c.Questions,
		clock:    c.Clock,
		timing:   c.Timing.WithDefaults(),
		roomID:   c.RoomID,
		playerID: c.PlayerID,
		wakeCh:   make(chan struct{}, 1),
		advanced: make(map[int]bool),
	}
}

// authorize verifies the local player still owns host authority for the
// room. Advisory only: cooperating clients are assumed.
func (d *Driver) authorize(ctx context.Context) error {
	p, err := d.store.PlayerByID(ctx, d.playerID)
	if err != nil {
		return err
	}
	if p.RoomID != d.roomID || !p.IsHost {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("player %s is not the host of room %s", d.playerID, d.roomID))
	}
	return nil
}

// StartGame moves the room lobby -> preparing -> question_active(0),
// generating and persisting a fresh question set in between, then starts the
// aggregation loop. The loop runs until the game finishes or Stop is called.
func (d *Driver) StartGame(ctx context.Context) error {
	if err := d.authorize(ctx); err != nil {
		return err
	}

	room, err := d.store.RoomByID(ctx, d.roomID)
	if err != nil {
		return err
	}
	players, err := d.store.CountPlayers(ctx, d.roomID)
	if err != nil {
		return err
	}

	if err := game.Check(game.Transition{
		From: room.Phase, FromIndex: room.QuestionIndex,
		To: domain.PhasePreparing, ToIndex: 0,
	}, game.Guard{PlayerCount: players}); err != nil {
		return err
	}
	if _, err := d.transition(ctx, domain.PhasePreparing, 0); err != nil {
		return err
	}

	qs, err := d.qsrc.Generate(ctx, d.timing.QuestionCount)
	if err != nil {
		// No questions is fatal to the game start; fall back to lobby so
		// the room is not stranded in preparing.
		_, _ = d.transition(ctx, domain.PhaseLobby, 0)
		return err
	}
	d.questions, err = d.store.ReplaceQuestions(ctx, d.roomID, qs)
	if err != nil {
		_, _ = d.transition(ctx, domain.PhaseLobby, 0)
		return err
	}

	if err := game.Check(game.Transition{
		From: domain.PhasePreparing, To: domain.PhaseQuestion, ToIndex: 0,
	}, game.Guard{QuestionCount: len(d.questions)}); err != nil {
		return err
	}
	if _, err := d.transition(ctx, domain.PhaseQuestion, 0); err != nil {
		return err
	}

	return d.run(ctx)
}

// run subscribes to answer notifications and spawns the loop goroutine.
func (d *Driver) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	sub, err := d.feed.Subscribe(ctx, d.roomID, feed.Handlers{
		OnAnswer: func(feed.AnswerChange) { d.wake() },
		OnStatus: func(err error) {
			telemetry.FeedDrops.Inc()
			slog.Warn("host: answer feed dropped, fallback tick takes over",
				"room_id", d.roomID, "error", err)
		},
	})
	if err != nil {
		// The fallback tick alone still makes progress; degrade, not fail.
		telemetry.FeedDrops.Inc()
		slog.Warn("host: answer feed unavailable, running on fallback tick only",
			"room_id", d.roomID, "error", err)
	}

	d.mu.Lock()
	d.cancel = cancel
	d.sub = sub
	d.stopped = make(chan struct{})
	d.mu.Unlock()

	d.armTimer(timerCountdown, d.timing.QuestionTime)

	go d.loop(ctx)
	return nil
}

// Stop cancels the loop and releases the subscription and timers.
func (d *Driver) Stop() {
	d.mu.Lock()
	cancel, sub, stopped := d.cancel, d.sub, d.stopped
	d.cancel, d.sub = nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		_ = sub.Unsubscribe()
	}
	if stopped != nil {
		<-stopped
	}
}

// Wait blocks until the loop exits. Only valid after StartGame succeeds.
func (d *Driver) Wait() {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped != nil {
		<-stopped
	}
}

func (d *Driver) wake() {
	select {
	case d.wakeCh <- struct{}{}:
	default:
	}
}

func (d *Driver) loop(ctx context.Context) {
	defer close(d.stopped)
	defer d.disarmTimer()

	ticker := d.clock.NewTicker(d.timing.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-d.wakeCh:
			if d.evaluate(ctx) {
				return
			}

		case <-ticker.Chan():
			if d.evaluate(ctx) {
				return
			}

		case <-d.timerCh:
			// The deadline and kind stay set; evaluate acts on them and
			// they are replaced only when the due transition lands.
			d.timer, d.timerCh = nil, nil
			if d.evaluate(ctx) {
				return
			}
		}
	}
}

// evaluate is the single progression step: re-derive what to do from the
// current authoritative phase+index plus the phase deadline, never from the
// notification or timer fire that woke us. Returns true when the game is
// over and the loop should exit.
func (d *Driver) evaluate(ctx context.Context) bool {
	room, err := d.store.RoomByID(ctx, d.roomID)
	if err != nil {
		slog.Error("host: read room failed", "room_id", d.roomID, "error", err)
		return false
	}

	switch room.Phase {
	case domain.PhaseFinished, domain.PhaseLobby:
		return true

	case domain.PhaseQuestion:
		if err := game.CheckIndex(room, len(d.questions)); err != nil {
			slog.Error("host: room state corrupt, stopping", "room_id", d.roomID, "error", err)
			return true
		}
		if d.due(timerCountdown) {
			d.endQuestion(ctx, room)
		} else {
			d.checkQuorum(ctx, room)
		}

	case domain.PhaseLeaderboard:
		if d.due(timerLeaderboard) {
			return d.leaveLeaderboard(ctx, room)
		}
	}
	return false
}

// due reports whether the phase timer of the given kind has reached its
// deadline.
func (d *Driver) due(kind timerKind) bool {
	return d.timerKind == kind && !d.deadline.IsZero() && !d.clock.Now().Before(d.deadline)
}

// checkQuorum reads live counts and advances when everyone has answered.
func (d *Driver) checkQuorum(ctx context.Context, room *domain.Room) {
	q := d.questions[room.QuestionIndex]

	players, err := d.store.CountPlayers(ctx, d.roomID)
	if err != nil {
		slog.Error("host: count players failed", "room_id", d.roomID, "error", err)
		return
	}
	answers, err := d.store.CountAnswers(ctx, q.QuestionID)
	if err != nil {
		slog.Error("host: count answers failed", "room_id", d.roomID, "error", err)
		return
	}

	if game.QuorumReached(answers, players) {
		d.advanceToLeaderboard(ctx, room.QuestionIndex, "quorum")
	}
}

// endQuestion force-advances the active question at its deadline, recording
// a sentinel answer for the host if they never answered.
func (d *Driver) endQuestion(ctx context.Context, room *domain.Room) {
	q := d.questions[room.QuestionIndex]
	_, err := d.store.InsertAnswer(ctx, domain.Answer{
		PlayerID:       d.playerID,
		QuestionID:     q.QuestionID,
		SelectedOption: domain.SentinelOption,
		ElapsedMs:      d.timing.QuestionTime.Milliseconds(),
		Correct:        false,
	})
	if err != nil && !errors.Is(err, errors.CodeAlreadyExists) {
		slog.Error("host: record timeout answer failed", "room_id", d.roomID, "error", err)
	}

	d.advanceToLeaderboard(ctx, room.QuestionIndex, "timeout")
}

// advanceToLeaderboard issues the question -> leaderboard transition exactly
// once per question index. The phase re-check immediately before the write is
// best-effort, not atomic; a lost race produces a duplicate write of the same
// target state, which is a no-op.
func (d *Driver) advanceToLeaderboard(ctx context.Context, index int, reason string) {
	if d.advanced[index] {
		return
	}

	room, err := d.store.RoomByID(ctx, d.roomID)
	if err != nil {
		slog.Error("host: re-check room failed", "room_id", d.roomID, "error", err)
		return
	}
	if room.Phase != domain.PhaseQuestion || room.QuestionIndex != index {
		return
	}

	if _, err := d.transition(ctx, domain.PhaseLeaderboard, index); err != nil {
		slog.Error("host: advance to leaderboard failed", "room_id", d.roomID, "error", err)
		return
	}
	d.advanced[index] = true
	telemetry.QuestionAdvances.WithLabelValues(reason).Inc()
	slog.Info("host: question advanced", "room_id", d.roomID, "question", index, "reason", reason)

	d.armTimer(timerLeaderboard, d.timing.LeaderboardTime)
}

// leaveLeaderboard advances unconditionally once the display delay is up:
// next question or finished. Returns true when the game finished.
func (d *Driver) leaveLeaderboard(ctx context.Context, room *domain.Room) bool {
	next := room.QuestionIndex + 1
	if next >= len(d.questions) {
		if _, err := d.transition(ctx, domain.PhaseFinished, next); err != nil {
			slog.Error("host: finish game failed", "room_id", d.roomID, "error", err)
			return false
		}
		slog.Info("host: game finished", "room_id", d.roomID)
		return true
	}

	if _, err := d.transition(ctx, domain.PhaseQuestion, next); err != nil {
		slog.Error("host: next question failed", "room_id", d.roomID, "error", err)
		return false
	}
	d.armTimer(timerCountdown, d.timing.QuestionTime)
	return false
}

// Reset is the host's error-recovery path: any phase back to lobby, clearing
// the game cycle's questions, answers and scores.
func (d *Driver) Reset(ctx context.Context) error {
	if err := d.authorize(ctx); err != nil {
		return err
	}
	if _, err := d.store.ResetRoom(ctx, d.roomID); err != nil {
		return err
	}
	telemetry.TransitionsApplied.WithLabelValues(string(domain.PhaseLobby)).Inc()
	d.Stop()
	return nil
}

func (d *Driver) transition(ctx context.Context, to domain.Phase, index int) (*domain.Room, error) {
	room, err := d.store.UpdateRoom(ctx, d.roomID, store.RoomPatch{Phase: &to, QuestionIndex: &index})
	if err != nil {
		return nil, err
	}
	telemetry.TransitionsApplied.WithLabelValues(string(to)).Inc()
	return room, nil
}

func (d *Driver) armTimer(kind timerKind, dur time.Duration) {
	d.disarmTimer()
	d.timer = d.clock.NewTimer(dur)
	d.timerCh = d.timer.Chan()
	d.timerKind = kind
	d.deadline = d.clock.Now().Add(dur)
}

// disarmTimer stops and drains the timer handle. The kind and deadline are
// left alone: armTimer overwrites them, and a fired timer's deadline must
// survive until its transition lands.
func (d *Driver) disarmTimer() {
	if d.timer == nil {
		return
	}
	if !d.timer.Stop() {
		select {
		case <-d.timer.Chan():
		default:
		}
	}
	d.timer, d.timerCh = nil, nil
}
