package game

import "time"

// Timing is the game-loop clock policy shared by the host driver and the
// client engine. The stuck timeout is deliberately longer than the question
// countdown so a slow host gets a chance to advance before clients force a
// resync.
type Timing struct {
	// QuestionTime is the answer countdown for one question.
	QuestionTime time.Duration
	// LeaderboardTime is how long the leaderboard stays up between questions.
	LeaderboardTime time.Duration
	// PollInterval drives the pull watchdog and the host's fallback tick.
	PollInterval time.Duration
	// StuckTimeout bounds how long a client waits for a phase change after
	// answering before force-refetching the room.
	StuckTimeout time.Duration
	// QuestionCount is the size of a generated question set.
	QuestionCount int
}

func DefaultTiming() Timing {
	return Timing{
		QuestionTime:    30 * time.Second,
		LeaderboardTime: 5 * time.Second,
		PollInterval:    2 * time.Second,
		StuckTimeout:    40 * time.Second,
		QuestionCount:   5,
	}
}

// WithDefaults fills zero fields so a partially configured Timing still runs.
func (t Timing) WithDefaults() Timing {
	d := DefaultTiming()
	if t.QuestionTime <= 0 {
		t.QuestionTime = d.QuestionTime
	}
	if t.LeaderboardTime <= 0 {
		t.LeaderboardTime = d.LeaderboardTime
	}
	if t.PollInterval <= 0 {
		t.PollInterval = d.PollInterval
	}
	if t.StuckTimeout <= 0 {
		t.StuckTimeout = d.StuckTimeout
	}
	if t.QuestionCount <= 0 {
		t.QuestionCount = d.QuestionCount
	}
	return t
}
