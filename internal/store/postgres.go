package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ludge/goal-gala-quiz-time/internal/domain"
	"github.com/Ludge/goal-gala-quiz-time/internal/errors"
)

const codeUniqueViolation = "23505"

// Postgres implements Store on a pgx pool. The schema carries unique indexes
// on rooms.code and answers(player_id, question_id); both surface here as
// AlreadyExists.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) CreateRoom(ctx context.Context, code string) (*domain.Room, error) {
	const stmt = `
INSERT INTO rooms (room_id, code, phase, question_index)
VALUES ($1, $2, $3, 0)
RETURNING room_id, code, phase, question_index, create_time;`

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate room ID: %w", err)
	}

	r, err := scanRoom(s.db.QueryRow(ctx, stmt, id, code, domain.PhaseLobby))
	if isUniqueViolation(err) {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("room code %s already in use", code),
			errors.WithCause(err))
	}
	if err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}
	return r, nil
}

func (s *Postgres) RoomByID(ctx context.Context, roomID string) (*domain.Room, error) {
	const stmt = `
SELECT room_id, code, phase, question_index, create_time
FROM rooms WHERE room_id = $1;`

	r, err := scanRoom(s.db.QueryRow(ctx, stmt, roomID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("room %s not found", roomID))
	}
	if err != nil {
		return nil, fmt.Errorf("read room: %w", err)
	}
	return r, nil
}

func (s *Postgres) RoomByCode(ctx context.Context, code string) (*domain.Room, error) {
	const stmt = `
SELECT room_id, code, phase, question_index, create_time
FROM rooms WHERE code = $1;`

	r, err := scanRoom(s.db.QueryRow(ctx, stmt, code))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("room code %s not found", code))
	}
	if err != nil {
		return nil, fmt.Errorf("read room by code: %w", err)
	}
	return r, nil
}

// UpdateRoom is a plain last-write-wins row update; there is no optimistic
// lock token in this design.
func (s *Postgres) UpdateRoom(ctx context.Context, roomID string, patch RoomPatch) (*domain.Room, error) {
	const stmt = `
UPDATE rooms
SET phase = COALESCE($2, phase),
    question_index = COALESCE($3, question_index)
WHERE room_id = $1
RETURNING room_id, code, phase, question_index, create_time;`

	var phase *string
	if patch.Phase != nil {
		p := string(*patch.Phase)
		phase = &p
	}

	r, err := scanRoom(s.db.QueryRow(ctx, stmt, roomID, phase, patch.QuestionIndex))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("room %s not found", roomID))
	}
	if err != nil {
		return nil, fmt.Errorf("update room: %w", err)
	}
	return r, nil
}

func (s *Postgres) AddPlayer(ctx context.Context, roomID, name string, isHost bool) (*domain.Player, error) {
	const stmt = `
INSERT INTO players (player_id, room_id, name, is_host, score)
VALUES ($1, $2, $3, $4, 0)
RETURNING player_id, room_id, name, is_host, score, join_time;`

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate player ID: %w", err)
	}

	p, err := scanPlayer(s.db.QueryRow(ctx, stmt, id, roomID, name, isHost))
	if err != nil {
		return nil, fmt.Errorf("insert player: %w", err)
	}
	return p, nil
}

func (s *Postgres) PlayerByID(ctx context.Context, playerID string) (*domain.Player, error) {
	const stmt = `
SELECT player_id, room_id, name, is_host, score, join_time
FROM players WHERE player_id = $1;`

	p, err := scanPlayer(s.db.QueryRow(ctx, stmt, playerID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("player %s not found", playerID))
	}
	if err != nil {
		return nil, fmt.Errorf("read player: %w", err)
	}
	return p, nil
}

func (s *Postgres) ListPlayers(ctx context.Context, roomID string) ([]domain.Player, error) {
	const stmt = `
SELECT player_id, room_id, name, is_host, score, join_time
FROM players WHERE room_id = $1
ORDER BY join_time, player_id;`

	rows, err := s.db.Query(ctx, stmt, roomID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Player, error) {
		var p domain.Player
		err := r.Scan(&p.PlayerID, &p.RoomID, &p.Name, &p.IsHost, &p.Score, &p.JoinTime)
		return p, err
	})
}

func (s *Postgres) CountPlayers(ctx context.Context, roomID string) (int, error) {
	const stmt = `SELECT COUNT(*) FROM players WHERE room_id = $1;`

	var n int
	if err := s.db.QueryRow(ctx, stmt, roomID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count players: %w", err)
	}
	return n, nil
}

func (s *Postgres) AddPlayerScore(ctx context.Context, playerID string, delta int) (*domain.Player, error) {
	const stmt = `
UPDATE players SET score = score + $2
WHERE player_id = $1
RETURNING player_id, room_id, name, is_host, score, join_time;`

	p, err := scanPlayer(s.db.QueryRow(ctx, stmt, playerID, delta))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("player %s not found", playerID))
	}
	if err != nil {
		return nil, fmt.Errorf("update player score: %w", err)
	}
	return p, nil
}

func (s *Postgres) ReplaceQuestions(ctx context.Context, roomID string, qs []domain.Question) (out []domain.Question, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		delStmt = `DELETE FROM questions WHERE room_id = $1;`
		insStmt = `
INSERT INTO questions (question_id, room_id, question_number, question_text, options, correct_option_index)
VALUES ($1, $2, $3, $4, $5, $6);`
	)

	if _, err = tx.Exec(ctx, delStmt, roomID); err != nil {
		return nil, fmt.Errorf("delete questions: %w", err)
	}

	out = make([]domain.Question, 0, len(qs))
	for i, q := range qs {
		id, idErr := uuid.NewV7()
		if idErr != nil {
			err = fmt.Errorf("generate question ID: %w", idErr)
			return nil, err
		}
		opts, mErr := json.Marshal(q.Options)
		if mErr != nil {
			err = fmt.Errorf("marshal options: %w", mErr)
			return nil, err
		}

		q.QuestionID = id.String()
		q.RoomID = roomID
		q.Number = i
		if _, err = tx.Exec(ctx, insStmt, q.QuestionID, roomID, i, q.Text, opts, q.CorrectOption); err != nil {
			return nil, fmt.Errorf("insert question %d: %w", i, err)
		}
		out = append(out, q)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Postgres) ListQuestions(ctx context.Context, roomID string) ([]domain.Question, error) {
	const stmt = `
SELECT question_id, room_id, question_number, question_text, options, correct_option_index
FROM questions WHERE room_id = $1
ORDER BY question_number;`

	rows, err := s.db.Query(ctx, stmt, roomID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var (
			q    domain.Question
			opts []byte
		)
		if err := r.Scan(&q.QuestionID, &q.RoomID, &q.Number, &q.Text, &opts, &q.CorrectOption); err != nil {
			return domain.Question{}, err
		}
		if err := json.Unmarshal(opts, &q.Options); err != nil {
			return domain.Question{}, fmt.Errorf("unmarshal options: %w", err)
		}
		return q, nil
	})
}

func (s *Postgres) InsertAnswer(ctx context.Context, a domain.Answer) (*domain.Answer, error) {
	const stmt = `
INSERT INTO answers (answer_id, player_id, question_id, selected_option_index, time_taken_ms, is_correct)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING answer_id, player_id, question_id, selected_option_index, time_taken_ms, is_correct, submit_time;`

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate answer ID: %w", err)
	}

	row := s.db.QueryRow(ctx, stmt, id, a.PlayerID, a.QuestionID, a.SelectedOption, a.ElapsedMs, a.Correct)
	var out domain.Answer
	err = row.Scan(&out.AnswerID, &out.PlayerID, &out.QuestionID, &out.SelectedOption, &out.ElapsedMs, &out.Correct, &out.SubmitTime)
	if isUniqueViolation(err) {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("answer already submitted: player=%s question=%s", a.PlayerID, a.QuestionID),
			errors.WithCause(err))
	}
	if err != nil {
		return nil, fmt.Errorf("insert answer: %w", err)
	}
	return &out, nil
}

func (s *Postgres) CountAnswers(ctx context.Context, questionID string) (int, error) {
	const stmt = `SELECT COUNT(*) FROM answers WHERE question_id = $1;`

	var n int
	if err := s.db.QueryRow(ctx, stmt, questionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count answers: %w", err)
	}
	return n, nil
}

func (s *Postgres) ListAnswers(ctx context.Context, roomID string) ([]domain.Answer, error) {
	const stmt = `
SELECT a.answer_id, a.player_id, a.question_id, a.selected_option_index, a.time_taken_ms, a.is_correct, a.submit_time
FROM answers a
JOIN questions q ON q.question_id = a.question_id
WHERE q.room_id = $1;`

	rows, err := s.db.Query(ctx, stmt, roomID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Answer, error) {
		var a domain.Answer
		err := r.Scan(&a.AnswerID, &a.PlayerID, &a.QuestionID, &a.SelectedOption, &a.ElapsedMs, &a.Correct, &a.SubmitTime)
		return a, err
	})
}

func (s *Postgres) Leaderboard(ctx context.Context, roomID string) ([]domain.LeaderboardEntry, error) {
	const stmt = `
SELECT p.player_id, p.name,
       COUNT(*) FILTER (WHERE a.is_correct) AS correct_answers,
       COALESCE(SUM(a.time_taken_ms) FILTER (WHERE a.is_correct), 0) AS total_time_ms
FROM players p
LEFT JOIN answers a ON a.player_id = p.player_id
WHERE p.room_id = $1
GROUP BY p.player_id, p.name
ORDER BY correct_answers DESC, total_time_ms ASC, p.player_id;`

	rows, err := s.db.Query(ctx, stmt, roomID)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.LeaderboardEntry, error) {
		var e domain.LeaderboardEntry
		err := r.Scan(&e.PlayerID, &e.Name, &e.Correct, &e.TotalTimeMs)
		return e, err
	})
}

func (s *Postgres) ResetRoom(ctx context.Context, roomID string) (r *domain.Room, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		delAnswers = `
DELETE FROM answers a USING questions q
WHERE a.question_id = q.question_id AND q.room_id = $1;`
		delQuestions = `DELETE FROM questions WHERE room_id = $1;`
		zeroScores   = `UPDATE players SET score = 0 WHERE room_id = $1;`
		resetRoom    = `
UPDATE rooms SET phase = $2, question_index = 0
WHERE room_id = $1
RETURNING room_id, code, phase, question_index, create_time;`
	)

	if _, err = tx.Exec(ctx, delAnswers, roomID); err != nil {
		return nil, fmt.Errorf("delete answers: %w", err)
	}
	if _, err = tx.Exec(ctx, delQuestions, roomID); err != nil {
		return nil, fmt.Errorf("delete questions: %w", err)
	}
	if _, err = tx.Exec(ctx, zeroScores, roomID); err != nil {
		return nil, fmt.Errorf("zero scores: %w", err)
	}

	r, err = scanRoom(tx.QueryRow(ctx, resetRoom, roomID, domain.PhaseLobby))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("room %s not found", roomID))
	}
	if err != nil {
		return nil, fmt.Errorf("reset room: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func scanRoom(row pgx.Row) (*domain.Room, error) {
	var r domain.Room
	if err := row.Scan(&r.RoomID, &r.Code, &r.Phase, &r.QuestionIndex, &r.CreateTime); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanPlayer(row pgx.Row) (*domain.Player, error) {
	var p domain.Player
	if err := row.Scan(&p.PlayerID, &p.RoomID, &p.Name, &p.IsHost, &p.Score, &p.JoinTime); err != nil {
		return nil, err
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}
