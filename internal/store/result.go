package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/wordquiz/wordquiz/internal/model"
)

var (
	// ErrAttemptsExhausted is returned when a share grant has no completions left.
	ErrAttemptsExhausted = errors.New("share attempts exhausted")
	// ErrShareExpired is returned when a share grant's expiry has passed.
	ErrShareExpired = errors.New("share link expired")
)

type resultRow struct {
	ID             string         `db:"id"`
	QuizID         string         `db:"quiz_id"`
	StudentID      sql.NullInt64  `db:"student_id"`
	AnonymousName  string         `db:"anonymous_name"`
	ShareToken     sql.NullString `db:"share_token"`
	Score          int            `db:"score"`
	TotalQuestions int            `db:"total_questions"`
	AnswersJSON    string         `db:"answers_json"`
	CompletedAt    int64          `db:"completed_at"`
}

const resultColumns = `id, quiz_id, student_id, anonymous_name, share_token, score, total_questions, answers_json, completed_at`

func (r resultRow) model() (model.Result, error) {
	res := model.Result{
		ID:     r.ID,
		QuizID: r.QuizID,
		Taker: model.Taker{
			StudentID:     r.StudentID.Int64,
			AnonymousName: r.AnonymousName,
			ShareToken:    r.ShareToken.String,
		},
		Score:          r.Score,
		TotalQuestions: r.TotalQuestions,
		CompletedAt:    fromUnixMilli(r.CompletedAt),
	}
	if err := json.Unmarshal([]byte(r.AnswersJSON), &res.Answers); err != nil {
		return res, fmt.Errorf("decode answers of result %s: %w", r.ID, err)
	}
	return res, nil
}

// GradeFunc computes a result from the answer keys of a quiz. It runs inside
// the recording transaction.
type GradeFunc func(keys []model.AnswerKey) (model.Result, error)

// RecordResult reads the answer keys, consumes a share attempt when the taker
// came through a share link, and inserts the graded result, all in one
// transaction. If any step fails nothing is written.
func (s *Store) RecordResult(ctx context.Context, quizID string, taker model.Taker, now time.Time, grade GradeFunc) (model.Result, error) {
	var out model.Result
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var exists int
		err := tx.GetContext(ctx, &exists, tx.Rebind(`SELECT COUNT(*) FROM quizzes WHERE id = ?`), quizID)
		if err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("quiz %s: %w", quizID, ErrNotFound)
		}

		var keys []model.AnswerKey
		var rows []struct {
			ProblemID     string `db:"problem_id"`
			CorrectAnswer string `db:"correct_answer"`
			Word          string `db:"word"`
		}
		err = tx.SelectContext(ctx, &rows, tx.Rebind(
			`SELECT k.problem_id, k.correct_answer, k.word
			 FROM answer_keys k JOIN problems p ON p.id = k.problem_id
			 WHERE k.quiz_id = ? ORDER BY p.position`), quizID)
		if err != nil {
			return fmt.Errorf("read answer keys: %w", err)
		}
		for _, r := range rows {
			keys = append(keys, model.AnswerKey{
				QuizID:        quizID,
				ProblemID:     model.ProblemID(r.ProblemID),
				CorrectAnswer: r.CorrectAnswer,
				Word:          r.Word,
			})
		}

		if taker.ShareToken != "" {
			if err := consumeAttempt(ctx, tx, taker.ShareToken, quizID, now); err != nil {
				return err
			}
		}

		res, err := grade(keys)
		if err != nil {
			return err
		}
		res.QuizID = quizID
		res.Taker = taker
		res.CompletedAt = now
		if err := insertResult(ctx, tx, res); err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// consumeAttempt increments completion_count only while it is below
// max_attempts, so the counter can never pass the limit.
func consumeAttempt(ctx context.Context, tx *sqlx.Tx, token, quizID string, now time.Time) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE share_grants SET completion_count = completion_count + 1
		 WHERE token = ? AND quiz_id = ? AND completion_count < max_attempts
		   AND (expires_at IS NULL OR expires_at > ?)`),
		token, quizID, unixMilli(now),
	)
	if err != nil {
		return fmt.Errorf("consume share attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var g shareRow
	err = tx.GetContext(ctx, &g, tx.Rebind(`SELECT `+shareColumns+` FROM share_grants WHERE token = ?`), token)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && g.QuizID != quizID) {
		return fmt.Errorf("share grant: %w", ErrNotFound)
	}
	if err != nil {
		return err
	}
	if g.model().Expired(now) {
		return ErrShareExpired
	}
	return ErrAttemptsExhausted
}

func insertResult(ctx context.Context, tx *sqlx.Tx, r model.Result) error {
	answers, err := json.Marshal(r.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	var student sql.NullInt64
	if r.Taker.StudentID != 0 {
		student = sql.NullInt64{Int64: r.Taker.StudentID, Valid: true}
	}
	var token sql.NullString
	if r.Taker.ShareToken != "" {
		token = sql.NullString{String: r.Taker.ShareToken, Valid: true}
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO results (`+resultColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.QuizID, student, r.Taker.AnonymousName, token, r.Score, r.TotalQuestions, string(answers), unixMilli(r.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// GetResult returns one result.
func (s *Store) GetResult(ctx context.Context, id string) (*model.Result, error) {
	var r resultRow
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT `+resultColumns+` FROM results WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	res, err := r.model()
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ListResults returns every result of a quiz in completion order.
func (s *Store) ListResults(ctx context.Context, quizID string) ([]model.Result, error) {
	var rows []resultRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT `+resultColumns+` FROM results WHERE quiz_id = ? ORDER BY completed_at, id`), quizID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Result, 0, len(rows))
	for _, r := range rows {
		res, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// CountResults returns the number of results of a quiz.
func (s *Store) CountResults(ctx context.Context, quizID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM results WHERE quiz_id = ?`), quizID)
	return n, err
}
