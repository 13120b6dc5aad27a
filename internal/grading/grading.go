// Package grading recomputes scores from the stored answer key. It is the
// only code path that reads answer keys on behalf of a taker.
package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/wordquiz/wordquiz/internal/model"
	"github.com/wordquiz/wordquiz/internal/store"
)

var (
	// ErrAttemptsExhausted means the share grant already has maxAttempts
	// completions. No result is stored.
	ErrAttemptsExhausted = errors.New("attempt limit exceeded")
	// ErrShareExpired means the share grant expired before submission.
	ErrShareExpired = errors.New("share link expired")
	// ErrNoTaker means the submission carries no identity.
	ErrNoTaker = errors.New("submission has no taker identity")
)

// Answers maps problem ids to the taker's raw input.
type Answers map[model.ProblemID]string

// Outcome is returned to the taking client.
type Outcome struct {
	Success  bool   `json:"success"`
	ResultID string `json:"result_id"`
	Score    int    `json:"score"`
	Total    int    `json:"total"`
}

// Grader grades submissions against the answer key.
type Grader struct {
	store *store.Store
	now   func() time.Time
}

// New creates a Grader.
func New(s *store.Store) *Grader {
	return &Grader{store: s, now: time.Now}
}

// Normalize prepares an answer for comparison: Unicode NFC, then every
// whitespace rune removed. "학 생" and " 학생 " both become "학생".
func Normalize(s string) string {
	s = norm.NFC.String(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// Match reports whether a raw answer matches the correct answer. Comparison
// is exact and case-sensitive after Normalize.
func Match(raw, correct string) bool {
	return Normalize(raw) == Normalize(correct)
}

// Score grades answers against keys. Problems missing from answers are
// graded as empty. Answers for unknown problem ids are ignored.
func Score(keys []model.AnswerKey, answers Answers) (score int, records []model.AnswerRecord) {
	records = make([]model.AnswerRecord, 0, len(keys))
	for _, k := range keys {
		raw := answers[k.ProblemID]
		ok := Normalize(raw) != "" && Match(raw, k.CorrectAnswer)
		if ok {
			score++
		}
		records = append(records, model.AnswerRecord{
			ProblemID:     k.ProblemID,
			Word:          k.Word,
			UserAnswer:    raw,
			CorrectAnswer: k.CorrectAnswer,
			IsCorrect:     ok,
		})
	}
	return score, records
}

// Submit grades answers for quizID and persists exactly one Result. When the
// taker came through a share link, the grant's completion count is
// incremented in the same transaction.
func (g *Grader) Submit(ctx context.Context, quizID string, taker model.Taker, answers Answers) (Outcome, error) {
	if taker.StudentID == 0 && strings.TrimSpace(taker.AnonymousName) == "" {
		return Outcome{}, ErrNoTaker
	}
	if taker.Anonymous() && taker.ShareToken == "" {
		return Outcome{}, fmt.Errorf("%w: anonymous taker without share token", ErrNoTaker)
	}

	res, err := g.store.RecordResult(ctx, quizID, taker, g.now().UTC(), func(keys []model.AnswerKey) (model.Result, error) {
		score, records := Score(keys, answers)
		return model.Result{
			ID:             uuid.NewString(),
			Score:          score,
			TotalQuestions: len(keys),
			Answers:        records,
		}, nil
	})
	switch {
	case errors.Is(err, store.ErrAttemptsExhausted):
		return Outcome{}, fmt.Errorf("%w: %w", ErrAttemptsExhausted, err)
	case errors.Is(err, store.ErrShareExpired):
		return Outcome{}, fmt.Errorf("%w: %w", ErrShareExpired, err)
	case err != nil:
		return Outcome{}, fmt.Errorf("record result: %w", err)
	}

	slog.Info("graded submission", "quiz_id", quizID, "result_id", res.ID, "score", res.Score, "total", res.TotalQuestions, "anonymous", taker.Anonymous())
	return Outcome{Success: true, ResultID: res.ID, Score: res.Score, Total: res.TotalQuestions}, nil
}
