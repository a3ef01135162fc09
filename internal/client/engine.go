// Package client keeps one participant's local view of a room consistent
// with the record store. Change notifications are the fast path; two
// watchdogs bound the damage when they are lost: a short poll that compares
// the room row against the local view, and a longer stuck timeout armed
// after answering.
package client

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

// View is a render-ready copy of the local room state. Everything in it came
// from the store at some point; notifications only decide when to refresh.
type View struct {
	Phase         domain.Phase
	QuestionIndex int
	Players       []domain.Player
	Question      *domain.Question
	// AnswersIn counts distinct answers seen for the active question.
	AnswersIn   int
	Leaderboard []domain.LeaderboardEntry
	Score       int
	Answered    bool
	// Stalled is set when the stuck timeout expired and the room still had
	// not moved. The view stays consistent; progress needs the host back.
	Stalled bool
}

type Config struct {
	Store  store.Store
	Feed   feed.Feed
	Clock  clockwork.Clock
	Timing game.Timing

	RoomID   string
	PlayerID string
}

// Engine reconciles one player's view of one room. All mutation happens on
// the loop goroutine; external callers read snapshots and submit answers.
type Engine struct {
	store  store.Store
	feed   feed.Feed
	clock  clockwork.Clock
	timing game.Timing

	roomID   string
	playerID string

	evCh  chan any
	cmdCh chan func()

	mu   sync.Mutex
	view View
	// questionStart anchors elapsed-time measurement for the active question.
	questionStart time.Time
	seenAnswers   map[string]bool

	countdown   clockwork.Timer
	countdownCh <-chan time.Time
	stuck       clockwork.Timer
	stuckCh     <-chan time.Time

	cancel  context.CancelFunc
	stopped chan struct{}
	sub     feed.Subscription
}

func NewEngine(c Config) *Engine {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return &Engine{
		store:       c.Store,
		feed:        c.Feed,
		clock:       c.Clock,
		timing:      c.Timing.WithDefaults(),
		roomID:      c.RoomID,
		playerID:    c.PlayerID,
		evCh:        make(chan any, 64),
		cmdCh:       make(chan func(), 8),
		seenAnswers: make(map[string]bool),
	}
}

// Start performs a full sync, subscribes to the change feed and launches the
// reconciliation loop.
func (e *Engine) Start(ctx context.Context) error {
	room, err := e.store.RoomByID(ctx, e.roomID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.stopped = make(chan struct{})

	sub, err := e.feed.Subscribe(ctx, e.roomID, feed.Handlers{
		OnRoom:   func(c feed.RoomChange) { e.push(c) },
		OnPlayer: func(c feed.PlayerChange) { e.push(c) },
		OnAnswer: func(c feed.AnswerChange) { e.push(c) },
		OnStatus: func(err error) {
			telemetry.FeedDrops.Inc()
			slog.Warn("client: change feed dropped, polling takes over",
				"room_id", e.roomID, "player_id", e.playerID, "error", err)
		},
	})
	if err != nil {
		telemetry.FeedDrops.Inc()
		slog.Warn("client: change feed unavailable, polling only",
			"room_id", e.roomID, "error", err)
	}
	e.sub = sub

	e.applyRoom(ctx, room, true)
	if err := e.refreshPlayers(ctx); err != nil {
		slog.Warn("client: initial player list fetch failed", "room_id", e.roomID, "error", err)
	}

	go e.loop(ctx)
	return nil
}

// Stop tears the loop down and releases the subscription and timers.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.sub != nil {
		_ = e.sub.Unsubscribe()
	}
	if e.stopped != nil {
		<-e.stopped
	}
}

// Snapshot returns a copy of the current view, safe to keep.
func (e *Engine) Snapshot() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	v := e.view
	v.Players = append([]domain.Player(nil), e.view.Players...)
	v.Leaderboard = append([]domain.LeaderboardEntry(nil), e.view.Leaderboard...)
	if e.view.Question != nil {
		q := *e.view.Question
		v.Question = &q
	}
	return v
}

// SubmitAnswer grades and records the player's answer for the active
// question, bumps the display score, and arms the stuck watchdog. A second
// submission for the same question fails with AlreadyExists.
func (e *Engine) SubmitAnswer(ctx context.Context, option int) (*domain.Answer, error) {
	e.mu.Lock()
	if e.view.Phase != domain.PhaseQuestion || e.view.Question == nil {
		e.mu.Unlock()
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no active question in room %s", e.roomID))
	}
	q := *e.view.Question
	elapsed := e.clock.Since(e.questionStart)
	e.mu.Unlock()

	if option != domain.SentinelOption && (option < 0 || option >= len(q.Options)) {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("option %d out of range for %d options", option, len(q.Options)))
	}

	correct := option == q.CorrectOption
	a, err := e.store.InsertAnswer(ctx, domain.Answer{
		PlayerID:       e.playerID,
		QuestionID:     q.QuestionID,
		SelectedOption: option,
		ElapsedMs:      elapsed.Milliseconds(),
		Correct:        correct,
	})
	if err != nil {
		return nil, err
	}

	if correct {
		p, err := e.store.AddPlayerScore(ctx, e.playerID,
			game.Points(true, a.ElapsedMs, e.timing.QuestionTime.Milliseconds()))
		if err != nil {
			slog.Warn("client: score update failed", "player_id", e.playerID, "error", err)
		} else {
			e.mu.Lock()
			e.view.Score = p.Score
			e.mu.Unlock()
		}
	}

	e.mu.Lock()
	e.view.Answered = true
	e.mu.Unlock()

	// The loop owns the timers; hand it the arm request.
	e.command(ctx, func() { e.armStuck() })
	return a, nil
}

func (e *Engine) push(ev any) {
	select {
	case e.evCh <- ev:
	default:
		// Backlogged; the poll watchdog repairs whatever this delivery
		// would have told us.
	}
}

func (e *Engine) command(ctx context.Context, fn func()) {
	select {
	case e.cmdCh <- fn:
	case <-ctx.Done():
	}
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.stopped)
	defer e.disarmCountdown()
	defer e.disarmStuck()

	ticker := e.clock.NewTicker(e.timing.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.evCh:
			e.apply(ctx, ev)
		case fn := <-e.cmdCh:
			fn()
		case <-ticker.Chan():
			e.pollCheck(ctx)
		case <-e.countdownCh:
			e.countdown, e.countdownCh = nil, nil
			e.countdownExpired(ctx)
		case <-e.stuckCh:
			e.stuck, e.stuckCh = nil, nil
			e.stuckExpired(ctx)
		}
	}
}

func (e *Engine) apply(ctx context.Context, ev any) {
	switch c := ev.(type) {
	case feed.RoomChange:
		if c.After == nil {
			return
		}
		// Deliveries are unordered across rows, so a stale room payload
		// could regress the view. Treat the notification as a signal only
		// and re-read the authoritative row before reconciling.
		room, err := e.store.RoomByID(ctx, e.roomID)
		if err != nil {
			slog.Warn("client: room refetch failed, polling will repair",
				"room_id", e.roomID, "error", err)
			return
		}
		e.applyRoom(ctx, room, false)

	case feed.PlayerChange:
		e.applyPlayer(c)

	case feed.AnswerChange:
		e.applyAnswer(c)
	}
}

// applyRoom reconciles the local view onto the given room row and performs
// the phase-entry work: question setup, leaderboard fetch, timer management.
func (e *Engine) applyRoom(ctx context.Context, room *domain.Room, force bool) {
	e.mu.Lock()
	changed := force || room.Phase != e.view.Phase || room.QuestionIndex != e.view.QuestionIndex
	e.view.Phase = room.Phase
	e.view.QuestionIndex = room.QuestionIndex
	e.mu.Unlock()

	if !changed {
		return
	}

	switch room.Phase {
	case domain.PhaseQuestion:
		e.enterQuestion(ctx, room.QuestionIndex)

	case domain.PhaseLeaderboard, domain.PhaseFinished:
		e.disarmCountdown()
		e.disarmStuck()
		e.refreshLeaderboard(ctx)
		e.mu.Lock()
		e.view.Stalled = false
		e.mu.Unlock()

	case domain.PhaseLobby:
		// Reset or fresh join: drop the previous cycle's state.
		e.disarmCountdown()
		e.disarmStuck()
		e.mu.Lock()
		e.view.Question = nil
		e.view.Leaderboard = nil
		e.view.AnswersIn = 0
		e.view.Answered = false
		e.view.Stalled = false
		e.view.Score = 0
		e.seenAnswers = make(map[string]bool)
		e.mu.Unlock()
		if err := e.refreshPlayers(ctx); err != nil {
			slog.Warn("client: player refresh failed", "room_id", e.roomID, "error", err)
		}
	}
}

func (e *Engine) enterQuestion(ctx context.Context, index int) {
	qs, err := e.store.ListQuestions(ctx, e.roomID)
	if err != nil || index < 0 || index >= len(qs) {
		slog.Error("client: cannot load active question",
			"room_id", e.roomID, "question", index, "error", err)
		return
	}
	q := qs[index]

	e.mu.Lock()
	e.view.Question = &q
	e.view.AnswersIn = 0
	e.view.Answered = false
	e.view.Stalled = false
	e.questionStart = e.clock.Now()
	e.seenAnswers = make(map[string]bool)
	e.mu.Unlock()

	e.disarmStuck()
	e.armCountdown()
}

func (e *Engine) applyPlayer(c feed.PlayerChange) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch c.Kind {
	case domain.ChangeDeleted:
		if c.Before == nil {
			return
		}
		for i, p := range e.view.Players {
			if p.PlayerID == c.Before.PlayerID {
				e.view.Players = append(e.view.Players[:i], e.view.Players[i+1:]...)
				return
			}
		}
	default:
		if c.After == nil {
			return
		}
		for i, p := range e.view.Players {
			if p.PlayerID == c.After.PlayerID {
				e.view.Players[i] = *c.After
				return
			}
		}
		e.view.Players = append(e.view.Players, *c.After)
	}
}

// applyAnswer counts distinct answers for the active question. Redelivered
// notifications are deduplicated by answer ID.
func (e *Engine) applyAnswer(c feed.AnswerChange) {
	if c.After == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.view.Question == nil || c.After.QuestionID != e.view.Question.QuestionID {
		return
	}
	if e.seenAnswers[c.After.AnswerID] {
		return
	}
	e.seenAnswers[c.After.AnswerID] = true
	e.view.AnswersIn++
}

// pollCheck is the pull watchdog: compare the authoritative room row against
// the local view and repair on any divergence.
func (e *Engine) pollCheck(ctx context.Context) {
	room, err := e.store.RoomByID(ctx, e.roomID)
	if err != nil {
		slog.Warn("client: poll fetch failed", "room_id", e.roomID, "error", err)
		return
	}

	e.mu.Lock()
	stale := room.Phase != e.view.Phase || room.QuestionIndex != e.view.QuestionIndex
	e.mu.Unlock()

	if !stale {
		return
	}
	telemetry.WatchdogResyncs.WithLabelValues("poll").Inc()
	slog.Info("client: poll watchdog repaired stale view",
		"room_id", e.roomID, "phase", room.Phase, "question", room.QuestionIndex)
	e.applyRoom(ctx, room, false)
}

// countdownExpired records a timeout answer when the player let the clock
// run out. The host advances the phase; this only completes the tally.
func (e *Engine) countdownExpired(ctx context.Context) {
	e.mu.Lock()
	answered := e.view.Answered || e.view.Phase != domain.PhaseQuestion
	e.mu.Unlock()
	if answered {
		return
	}

	_, err := e.SubmitAnswer(ctx, domain.SentinelOption)
	if err != nil && !errors.Is(err, errors.CodeAlreadyExists) {
		slog.Warn("client: timeout answer failed", "room_id", e.roomID, "error", err)
	}
}

// stuckExpired fires when the phase never moved after our answer. The view
// is re-fetched so it is at least consistent; if the room genuinely has not
// advanced there is no authority to advance it for the host.
func (e *Engine) stuckExpired(ctx context.Context) {
	room, err := e.store.RoomByID(ctx, e.roomID)
	if err != nil {
		slog.Warn("client: stuck re-fetch failed", "room_id", e.roomID, "error", err)
		return
	}
	telemetry.WatchdogResyncs.WithLabelValues("stuck").Inc()

	e.mu.Lock()
	moved := room.Phase != e.view.Phase || room.QuestionIndex != e.view.QuestionIndex
	if !moved {
		e.view.Stalled = true
	}
	e.mu.Unlock()

	if moved {
		e.applyRoom(ctx, room, false)
		return
	}
	slog.Warn("client: room stalled after answering; waiting on host",
		"room_id", e.roomID, "phase", room.Phase, "question", room.QuestionIndex)
}

func (e *Engine) refreshPlayers(ctx context.Context) error {
	players, err := e.store.ListPlayers(ctx, e.roomID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.view.Players = players
	for _, p := range players {
		if p.PlayerID == e.playerID {
			e.view.Score = p.Score
		}
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) refreshLeaderboard(ctx context.Context) {
	lb, err := e.store.Leaderboard(ctx, e.roomID)
	if err != nil {
		slog.Warn("client: leaderboard fetch failed", "room_id", e.roomID, "error", err)
		return
	}
	e.mu.Lock()
	e.view.Leaderboard = lb
	e.mu.Unlock()
}

func (e *Engine) armCountdown() {
	e.disarmCountdown()
	e.countdown = e.clock.NewTimer(e.timing.QuestionTime)
	e.countdownCh = e.countdown.Chan()
}

func (e *Engine) disarmCountdown() {
	if e.countdown == nil {
		return
	}
	if !e.countdown.Stop() {
		select {
		case <-e.countdown.Chan():
		default:
		}
	}
	e.countdown, e.countdownCh = nil, nil
}

func (e *Engine) armStuck() {
	e.disarmStuck()
	e.stuck = e.clock.NewTimer(e.timing.StuckTimeout)
	e.stuckCh = e.stuck.Chan()
}

func (e *Engine) disarmStuck() {
	if e.stuck == nil {
		return
	}
	if !e.stuck.Stop() {
		select {
		case <-e.stuck.Chan():
		default:
		}
	}
	e.stuck, e.stuckCh = nil, nil
}
