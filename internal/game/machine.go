package game

import (
	"crypto/rand"

	"github.com/Ludge/goal-gala-quiz-time/internal/domain"
	"github.com/Ludge/goal-gala-quiz-time/internal/errors"
)

// Guard carries the room facts a transition legality check depends on.
// Everything is read live before the check; nothing here is cached state.
type Guard struct {
	PlayerCount   int
	QuestionCount int
	// TargetIndex is the question index the transition wants to land on.
	// Only meaningful when the target phase is question_active.
	TargetIndex int
}

// Transition is a requested phase move on a room.
type Transition struct {
	From      domain.Phase
	FromIndex int
	To        domain.Phase
	ToIndex   int
}

// Check validates t against the transition table. Only the host may apply a
// transition; callers gate on that before calling. A request that targets the
// state the room is already in is legal and a no-op (idempotent re-issue).
func Check(t Transition, g Guard) error {
	if !t.From.Valid() || !t.To.Valid() {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unknown phase in transition %s -> %s", t.From, t.To))
	}

	// Re-issuing the transition the room already took is a no-op.
	if t.From == t.To && t.FromIndex == t.ToIndex {
		return nil
	}

	switch {
	case t.From == domain.PhaseLobby && t.To == domain.PhasePreparing:
		if g.PlayerCount < 1 {
			return illegal(t, "no players in room")
		}
		return nil

	case t.From == domain.PhasePreparing && t.To == domain.PhaseQuestion:
		if t.ToIndex != 0 {
			return illegal(t, "first question must start at index 0")
		}
		if g.QuestionCount == 0 {
			return illegal(t, "question set not generated")
		}
		return nil

	case t.From == domain.PhaseQuestion && t.To == domain.PhaseLeaderboard:
		// Quorum or timer expiry; both are decided by the caller, the
		// table only requires the index to stay put.
		if t.ToIndex != t.FromIndex {
			return illegal(t, "leaderboard keeps the question index")
		}
		return nil

	case t.From == domain.PhaseLeaderboard && t.To == domain.PhaseQuestion:
		if t.ToIndex != t.FromIndex+1 {
			return illegal(t, "next question must increment the index")
		}
		if t.ToIndex >= g.QuestionCount {
			return illegal(t, "no questions remain")
		}
		return nil

	case t.From == domain.PhaseLeaderboard && t.To == domain.PhaseFinished:
		if t.FromIndex+1 < g.QuestionCount {
			return illegal(t, "questions remain")
		}
		return nil

	// Error-recovery reset; also the play-again path from finished.
	case t.To == domain.PhaseLobby:
		return nil
	}

	return illegal(t, "no such edge")
}

func illegal(t Transition, reason string) error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("illegal transition %s[%d] -> %s[%d]: %s",
			t.From, t.FromIndex, t.To, t.ToIndex, reason))
}

// CheckIndex validates the activeQuestionIndex invariant: within
// [0, questionCount] once the game has started, and only at questionCount when
// the game is at or past the final leaderboard. A violation is data
// corruption, not a state to guess at.
func CheckIndex(r *domain.Room, questionCount int) error {
	switch r.Phase {
	case domain.PhaseQuestion:
		if r.QuestionIndex < 0 || r.QuestionIndex >= questionCount {
			return corrupt(r, questionCount)
		}
	case domain.PhaseLeaderboard:
		if r.QuestionIndex < 0 || r.QuestionIndex >= questionCount {
			return corrupt(r, questionCount)
		}
	case domain.PhaseFinished:
		if r.QuestionIndex < 0 || r.QuestionIndex > questionCount {
			return corrupt(r, questionCount)
		}
	}
	return nil
}

func corrupt(r *domain.Room, questionCount int) error {
	return errors.New(errors.CodeOutOfRange,
		errors.WithMessagef("room %s: question index %d out of range for %d questions in phase %s",
			r.RoomID, r.QuestionIndex, questionCount, r.Phase))
}

// QuorumReached reports whether every eligible player has answered the active
// question. An empty room never reaches quorum.
func QuorumReached(answerCount, playerCount int) bool {
	return playerCount > 0 && answerCount >= playerCount
}

const (
	codeLength   = 6
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// NewJoinCode returns a fixed-length human-entry room code. Ambiguous
// characters (0/O, 1/I) are excluded from the alphabet.
func NewJoinCode() string {
	b := make([]byte, codeLength)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b)
}
