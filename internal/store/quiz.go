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

type quizRow struct {
	ID                  string        `db:"id"`
	TeacherID           int64         `db:"teacher_id"`
	Title               string        `db:"title"`
	WordsJSON           string        `db:"words_json"`
	Difficulty          string        `db:"difficulty"`
	TranslationLanguage string        `db:"translation_language"`
	WordsPerSet         int           `db:"words_per_set"`
	TimerEnabled        bool          `db:"timer_enabled"`
	TimerSeconds        sql.NullInt64 `db:"timer_seconds"`
	CreatedAt           int64         `db:"created_at"`
}

const quizColumns = `id, teacher_id, title, words_json, difficulty, translation_language, words_per_set, timer_enabled, timer_seconds, created_at`

func (r quizRow) model() (*model.Quiz, error) {
	q := &model.Quiz{
		ID:                  r.ID,
		TeacherID:           r.TeacherID,
		Title:               r.Title,
		Difficulty:          model.Difficulty(r.Difficulty),
		TranslationLanguage: model.TranslationLanguage(r.TranslationLanguage),
		WordsPerSet:         r.WordsPerSet,
		TimerEnabled:        r.TimerEnabled,
		CreatedAt:           fromUnixMilli(r.CreatedAt),
	}
	if r.TimerSeconds.Valid {
		secs := int(r.TimerSeconds.Int64)
		q.TimerSeconds = &secs
	}
	if err := json.Unmarshal([]byte(r.WordsJSON), &q.Words); err != nil {
		return nil, fmt.Errorf("decode words of quiz %s: %w", r.ID, err)
	}
	return q, nil
}

// problemRow is a problem joined with its answer key. The student read path
// never selects the answer column.
type problemRow struct {
	ID          string         `db:"id"`
	QuizID      string         `db:"quiz_id"`
	Word        string         `db:"word"`
	Sentence    string         `db:"sentence"`
	Hint        string         `db:"hint"`
	Translation string         `db:"translation"`
	AudioURL    sql.NullString `db:"audio_url"`
	Answer      string         `db:"correct_answer"`
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}

func (r problemRow) model() model.Problem {
	return model.Problem{
		ID:          model.ProblemID(r.ID),
		Word:        r.Word,
		Answer:      r.Answer,
		Sentence:    r.Sentence,
		Hint:        r.Hint,
		Translation: r.Translation,
		AudioURL:    fromNullString(r.AudioURL),
	}
}

// CreateQuiz stores a quiz, its problems, and their answer keys atomically.
func (s *Store) CreateQuiz(ctx context.Context, q model.Quiz) error {
	words, err := json.Marshal(q.Words)
	if err != nil {
		return fmt.Errorf("encode words: %w", err)
	}
	created := q.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var timer sql.NullInt64
	if q.TimerSeconds != nil {
		timer = sql.NullInt64{Int64: int64(*q.TimerSeconds), Valid: true}
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO quizzes (`+quizColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			q.ID, q.TeacherID, q.Title, string(words), string(q.Difficulty), string(q.TranslationLanguage),
			q.WordsPerSet, q.TimerEnabled, timer, unixMilli(created),
		)
		if err != nil {
			return fmt.Errorf("insert quiz: %w", err)
		}
		for i, p := range q.Problems {
			_, err := tx.ExecContext(ctx, tx.Rebind(
				`INSERT INTO problems (id, quiz_id, position, word, sentence, hint, translation, audio_url)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
				string(p.ID), q.ID, i, p.Word, p.Sentence, p.Hint, p.Translation, nullString(p.AudioURL),
			)
			if err != nil {
				return fmt.Errorf("insert problem %s: %w", p.ID, err)
			}
			_, err = tx.ExecContext(ctx, tx.Rebind(
				`INSERT INTO answer_keys (problem_id, quiz_id, correct_answer, word) VALUES (?, ?, ?, ?)`),
				string(p.ID), q.ID, p.Answer, p.Word,
			)
			if err != nil {
				return fmt.Errorf("insert answer key %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) getQuizRow(ctx context.Context, id string) (*model.Quiz, error) {
	var r quizRow
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT `+quizColumns+` FROM quizzes WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("quiz %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return r.model()
}

// GetQuiz returns the teacher-facing quiz with answers.
func (s *Store) GetQuiz(ctx context.Context, id string) (*model.Quiz, error) {
	q, err := s.getQuizRow(ctx, id)
	if err != nil {
		return nil, err
	}
	var rows []problemRow
	err = s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT p.id, p.quiz_id, p.word, p.sentence, p.hint, p.translation, p.audio_url, k.correct_answer
		 FROM problems p JOIN answer_keys k ON k.problem_id = p.id
		 WHERE p.quiz_id = ? ORDER BY p.position`), id)
	if err != nil {
		return nil, fmt.Errorf("list problems: %w", err)
	}
	q.Problems = make([]model.Problem, 0, len(rows))
	for _, r := range rows {
		q.Problems = append(q.Problems, r.model())
	}
	return q, nil
}

// GetStudentQuiz returns the taker-facing quiz. This query does not touch
// the answer_keys table.
func (s *Store) GetStudentQuiz(ctx context.Context, id string) (*model.StudentQuiz, error) {
	q, err := s.getQuizRow(ctx, id)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ID          string         `db:"id"`
		Word        string         `db:"word"`
		Sentence    string         `db:"sentence"`
		Hint        string         `db:"hint"`
		Translation string         `db:"translation"`
		AudioURL    sql.NullString `db:"audio_url"`
	}
	err = s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT id, word, sentence, hint, translation, audio_url
		 FROM problems WHERE quiz_id = ? ORDER BY position`), id)
	if err != nil {
		return nil, fmt.Errorf("list problems: %w", err)
	}
	sq := &model.StudentQuiz{
		ID:                  q.ID,
		Title:               q.Title,
		Difficulty:          q.Difficulty,
		TranslationLanguage: q.TranslationLanguage,
		WordsPerSet:         q.WordsPerSet,
		TimerEnabled:        q.TimerEnabled,
		TimerSeconds:        q.TimerSeconds,
		Problems:            make([]model.StudentProblem, 0, len(rows)),
	}
	for _, r := range rows {
		sq.Problems = append(sq.Problems, model.StudentProblem{
			ID:          model.ProblemID(r.ID),
			Word:        r.Word,
			Sentence:    r.Sentence,
			Hint:        r.Hint,
			Translation: r.Translation,
			AudioURL:    fromNullString(r.AudioURL),
		})
	}
	return sq, nil
}

// ListQuizzes returns a teacher's quizzes, newest first.
func (s *Store) ListQuizzes(ctx context.Context, teacherID int64) ([]model.QuizSummary, error) {
	var rows []struct {
		ID           string `db:"id"`
		Title        string `db:"title"`
		Difficulty   string `db:"difficulty"`
		NumProblems  int    `db:"num_problems"`
		MissingAudio int    `db:"missing_audio"`
		CreatedAt    int64  `db:"created_at"`
	}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT q.id, q.title, q.difficulty, q.created_at,
		        COUNT(p.id) AS num_problems,
		        COUNT(p.id) - COUNT(p.audio_url) AS missing_audio
		 FROM quizzes q LEFT JOIN problems p ON p.quiz_id = q.id
		 WHERE q.teacher_id = ?
		 GROUP BY q.id, q.title, q.difficulty, q.created_at
		 ORDER BY q.created_at DESC, q.id`), teacherID)
	if err != nil {
		return nil, err
	}
	out := make([]model.QuizSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.QuizSummary{
			ID:           r.ID,
			Title:        r.Title,
			Difficulty:   model.Difficulty(r.Difficulty),
			NumProblems:  r.NumProblems,
			MissingAudio: r.MissingAudio,
			CreatedAt:    fromUnixMilli(r.CreatedAt),
		})
	}
	return out, nil
}

// DeleteQuiz removes a quiz with its problems, answer keys, share grants, and
// results.
func (s *Store) DeleteQuiz(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, table := range []string{"results", "share_grants", "answer_keys", "problems"} {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM `+table+` WHERE quiz_id = ?`), id); err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM quizzes WHERE id = ?`), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("quiz %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// GetProblem returns one problem with its answer.
func (s *Store) GetProblem(ctx context.Context, quizID string, id model.ProblemID) (*model.Problem, error) {
	var r problemRow
	err := s.db.GetContext(ctx, &r, s.db.Rebind(
		`SELECT p.id, p.quiz_id, p.word, p.sentence, p.hint, p.translation, p.audio_url, k.correct_answer
		 FROM problems p JOIN answer_keys k ON k.problem_id = p.id
		 WHERE p.quiz_id = ? AND p.id = ?`), quizID, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("problem %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	p := r.model()
	return &p, nil
}

// UpdateProblemContent rewrites a problem's sentence, hint, translation and
// answer key. The id and word are kept and the audio URL is cleared, since
// the old audio no longer matches the sentence.
func (s *Store) UpdateProblemContent(ctx context.Context, quizID string, p model.Problem) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE problems SET sentence = ?, hint = ?, translation = ?, audio_url = NULL
			 WHERE quiz_id = ? AND id = ?`),
			p.Sentence, p.Hint, p.Translation, quizID, string(p.ID),
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("problem %s: %w", p.ID, ErrNotFound)
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(
			`UPDATE answer_keys SET correct_answer = ? WHERE problem_id = ?`),
			p.Answer, string(p.ID),
		)
		return err
	})
}

// SetProblemAudio records the audio URL of a problem. A nil url clears it.
func (s *Store) SetProblemAudio(ctx context.Context, quizID string, id model.ProblemID, url *string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE problems SET audio_url = ? WHERE quiz_id = ? AND id = ?`),
		nullString(url), quizID, string(id),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("problem %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetProblemAudioFor records url as the audio of p only while the stored
// sentence and answer still equal p's. It returns ErrStaleContent when the
// problem was edited after p was read.
func (s *Store) SetProblemAudioFor(ctx context.Context, quizID string, p model.Problem, url string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE problems SET audio_url = ?
		 WHERE quiz_id = ? AND id = ? AND sentence = ?
		   AND EXISTS (SELECT 1 FROM answer_keys k WHERE k.problem_id = problems.id AND k.correct_answer = ?)`),
		url, quizID, string(p.ID), p.Sentence, p.Answer,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.GetProblem(ctx, quizID, p.ID); err != nil {
		return err
	}
	return fmt.Errorf("problem %s: %w", p.ID, ErrStaleContent)
}

// MissingAudio is a problem whose audio has not been synthesized yet.
type MissingAudio struct {
	QuizID  string
	Problem model.Problem
}

// ListMissingAudio returns up to limit problems without audio, oldest quiz
// first.
func (s *Store) ListMissingAudio(ctx context.Context, limit int) ([]MissingAudio, error) {
	var rows []problemRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT p.id, p.quiz_id, p.word, p.sentence, p.hint, p.translation, p.audio_url, k.correct_answer
		 FROM problems p
		 JOIN answer_keys k ON k.problem_id = p.id
		 JOIN quizzes q ON q.id = p.quiz_id
		 WHERE p.audio_url IS NULL
		 ORDER BY q.created_at, p.position
		 LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	out := make([]MissingAudio, 0, len(rows))
	for _, r := range rows {
		out = append(out, MissingAudio{QuizID: r.QuizID, Problem: r.model()})
	}
	return out, nil
}
