package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/wordquiz/wordquiz/internal/model"
)

// ExportResults builds the export document for one quiz.
func (s *Store) ExportResults(ctx context.Context, quizID string) (*model.ResultExport, error) {
	quiz, err := s.getQuizRow(ctx, quizID)
	if err != nil {
		return nil, err
	}
	var numProblems int
	if err := s.db.GetContext(ctx, &numProblems, s.db.Rebind(`SELECT COUNT(*) FROM problems WHERE quiz_id = ?`), quizID); err != nil {
		return nil, fmt.Errorf("count problems: %w", err)
	}
	results, err := s.ListResults(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}

	// Track attempts per taker for attempt_number.
	attempts := make(map[string]int)
	names := make(map[int64]string)
	missed := make(map[string]int)
	var scoreSum int

	export := &model.ResultExport{
		QuizID:      quiz.ID,
		Title:       quiz.Title,
		Difficulty:  quiz.Difficulty,
		ExportedAt:  time.Now().UTC(),
		NumProblems: numProblems,
		Results:     make([]model.TakerResult, 0, len(results)),
	}

	for _, r := range results {
		key := "anon:" + r.Taker.AnonymousName + ":" + r.Taker.ShareToken
		var studentName string
		if !r.Taker.Anonymous() {
			key = "student:" + strconv.FormatInt(r.Taker.StudentID, 10)
			name, ok := names[r.Taker.StudentID]
			if !ok {
				u, err := s.GetUserByID(ctx, r.Taker.StudentID)
				if err != nil {
					return nil, fmt.Errorf("get user %d: %w", r.Taker.StudentID, err)
				}
				if u != nil {
					name = u.DisplayName
				}
				names[r.Taker.StudentID] = name
			}
			studentName = name
		}
		attempts[key]++

		for _, a := range r.Answers {
			if !a.IsCorrect {
				missed[a.Word]++
			}
		}
		scoreSum += r.Score

		export.Results = append(export.Results, model.TakerResult{
			ResultID:      r.ID,
			StudentName:   studentName,
			AnonymousName: r.Taker.AnonymousName,
			AttemptNumber: attempts[key],
			Score:         r.Score,
			Total:         r.TotalQuestions,
			CompletedAt:   r.CompletedAt,
			Answers:       r.Answers,
		})
	}

	export.Summary = model.ExportSummary{Attempts: len(results), MissedWords: missed}
	if len(results) > 0 {
		export.Summary.AverageScore = float64(scoreSum) / float64(len(results))
	}
	return export, nil
}
