// Package store defines the record-store contract the sync engine runs
// against, plus its Postgres and in-memory implementations. Updates are
// atomic per row, last write wins; there are no cross-row transactions and
// the engine does not assume any.
package store

import (
	"context"

	"github.com/Ludge/goal-gala-quiz-time/internal/domain"
)

// RoomPatch is a partial update of the room row. Nil fields are left alone.
type RoomPatch struct {
	Phase         *domain.Phase
	QuestionIndex *int
}

// Store is the versioned record store. It is passed explicitly to every
// component that needs it; there is no ambient shared handle.
type Store interface {
	// CreateRoom inserts a room in the lobby phase. A duplicate join code
	// fails with AlreadyExists, never a silent overwrite.
	CreateRoom(ctx context.Context, code string) (*domain.Room, error)
	RoomByID(ctx context.Context, roomID string) (*domain.Room, error)
	RoomByCode(ctx context.Context, code string) (*domain.Room, error)
	// UpdateRoom applies patch and returns the updated row.
	UpdateRoom(ctx context.Context, roomID string, patch RoomPatch) (*domain.Room, error)

	AddPlayer(ctx context.Context, roomID, name string, isHost bool) (*domain.Player, error)
	PlayerByID(ctx context.Context, playerID string) (*domain.Player, error)
	ListPlayers(ctx context.Context, roomID string) ([]domain.Player, error)
	CountPlayers(ctx context.Context, roomID string) (int, error)
	// AddPlayerScore bumps the cumulative display score.
	AddPlayerScore(ctx context.Context, playerID string, delta int) (*domain.Player, error)

	// ReplaceQuestions deletes the room's question set and inserts qs in
	// order. Called once per game cycle, before the first question.
	ReplaceQuestions(ctx context.Context, roomID string, qs []domain.Question) ([]domain.Question, error)
	ListQuestions(ctx context.Context, roomID string) ([]domain.Question, error)

	// InsertAnswer appends an answer. A second answer for the same
	// (player, question) pair fails with AlreadyExists.
	InsertAnswer(ctx context.Context, a domain.Answer) (*domain.Answer, error)
	CountAnswers(ctx context.Context, questionID string) (int, error)
	ListAnswers(ctx context.Context, roomID string) ([]domain.Answer, error)

	// Leaderboard recomputes the ranking from answers on every call.
	Leaderboard(ctx context.Context, roomID string) ([]domain.LeaderboardEntry, error)

	// ResetRoom starts a new game cycle: phase back to lobby, index to
	// zero, questions and answers deleted, scores zeroed.
	ResetRoom(ctx context.Context, roomID string) (*domain.Room, error)
}
