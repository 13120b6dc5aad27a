// Package authoring implements the teacher-side quiz lifecycle: creation
// from a word list, problem edits, regeneration and deletion.
package authoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/wordquiz/wordquiz/internal/generation"
	"github.com/wordquiz/wordquiz/internal/model"
	"github.com/wordquiz/wordquiz/internal/storage"
	"github.com/wordquiz/wordquiz/internal/store"
	"github.com/wordquiz/wordquiz/internal/wordlist"
)

var (
	// ErrInvalidInput wraps every validation failure.
	ErrInvalidInput = errors.New("invalid input")
	// ErrForbidden means the quiz belongs to another teacher.
	ErrForbidden = errors.New("quiz belongs to another teacher")
)

const maxTitleRunes = 100

// AudioScheduler is the part of the audio pipeline authoring needs.
type AudioScheduler interface {
	Enqueue(ctx context.Context, quizID string) error
	Refresh(ctx context.Context, quizID string, id model.ProblemID)
	Forget(quizID string)
}

// CreateQuizInput is what a teacher submits to create a quiz.
type CreateQuizInput struct {
	Title               string   `json:"title"`
	Words               []string `json:"words"`
	Difficulty          string   `json:"difficulty"`
	TranslationLanguage string   `json:"translation_language"`
	WordsPerSet         int      `json:"words_per_set"`
	TimerEnabled        bool     `json:"timer_enabled"`
	TimerSeconds        *int     `json:"timer_seconds"`
}

// ProblemEdit replaces the content of a problem. The id and word never
// change; Word may be left empty or repeat the current word.
type ProblemEdit struct {
	Word        string `json:"word"`
	Answer      string `json:"answer"`
	Sentence    string `json:"sentence"`
	Hint        string `json:"hint"`
	Translation string `json:"translation"`
}

// Service runs authoring operations.
type Service struct {
	store *store.Store
	gen   *generation.Orchestrator
	audio AudioScheduler
	blobs storage.BlobStore
	now   func() time.Time
}

// New creates a Service. audio and blobs may be nil when audio is disabled.
func New(st *store.Store, gen *generation.Orchestrator, audio AudioScheduler, blobs storage.BlobStore) *Service {
	return &Service{store: st, gen: gen, audio: audio, blobs: blobs, now: time.Now}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

type validated struct {
	title       string
	words       []string
	difficulty  model.Difficulty
	lang        model.TranslationLanguage
	wordsPerSet int
	timerOn     bool
	timerSecs   *int
}

func validate(in CreateQuizInput) (validated, error) {
	var v validated
	v.title = strings.TrimSpace(in.Title)
	if v.title == "" || utf8.RuneCountInString(v.title) > maxTitleRunes {
		return v, invalid("title must be 1 to %d characters", maxTitleRunes)
	}
	seen := make(map[string]bool)
	for _, w := range in.Words {
		w = strings.TrimSpace(w)
		if w != "" && !seen[w] {
			seen[w] = true
			v.words = append(v.words, w)
		}
	}
	if len(v.words) == 0 || len(v.words) > wordlist.MaxWords {
		return v, invalid("quiz needs 1 to %d distinct words, got %d", wordlist.MaxWords, len(v.words))
	}
	d, err := model.ParseDifficulty(in.Difficulty)
	if err != nil {
		return v, invalid("%v", err)
	}
	v.difficulty = d
	lang, err := model.ParseTranslationLanguage(in.TranslationLanguage)
	if err != nil {
		return v, invalid("%v", err)
	}
	v.lang = lang
	if in.WordsPerSet < 1 {
		return v, invalid("words per set must be at least 1")
	}
	v.wordsPerSet = in.WordsPerSet
	if in.TimerEnabled {
		if in.TimerSeconds == nil || *in.TimerSeconds <= 0 {
			return v, invalid("timer seconds must be positive when the timer is enabled")
		}
		secs := *in.TimerSeconds
		v.timerOn, v.timerSecs = true, &secs
	}
	return v, nil
}

// CreateQuiz generates and stores a quiz. When generation stops early the
// quiz keeps only the fulfilled words and the returned Fulfillment says how
// many. Audio synthesis starts in the background.
func (s *Service) CreateQuiz(ctx context.Context, teacherID int64, in CreateQuizInput, progress generation.ProgressFunc) (*model.Quiz, model.Fulfillment, error) {
	v, err := validate(in)
	if err != nil {
		return nil, model.Fulfillment{}, err
	}

	out, err := s.gen.Generate(ctx, generation.Request{
		Words:               v.words,
		Difficulty:          v.difficulty,
		TranslationLanguage: v.lang,
		WordsPerSet:         v.wordsPerSet,
	}, progress)
	if err != nil {
		return nil, out.Fulfillment, err
	}

	q := model.Quiz{
		ID:                  uuid.NewString(),
		TeacherID:           teacherID,
		Title:               v.title,
		Words:               out.Words,
		Difficulty:          v.difficulty,
		TranslationLanguage: v.lang,
		WordsPerSet:         v.wordsPerSet,
		TimerEnabled:        v.timerOn,
		TimerSeconds:        v.timerSecs,
		Problems:            out.Problems,
		CreatedAt:           s.now().UTC(),
	}
	if err := s.store.CreateQuiz(ctx, q); err != nil {
		return nil, out.Fulfillment, fmt.Errorf("save quiz: %w", err)
	}
	slog.Info("quiz created", "quiz_id", q.ID, "teacher_id", teacherID, "fulfilled", out.Fulfillment.String())

	s.scheduleAudio(ctx, q.ID)
	return &q, out.Fulfillment, nil
}

// OwnedQuiz returns the teacher view of a quiz after checking ownership.
// A teacherID of 0 skips the check.
func (s *Service) OwnedQuiz(ctx context.Context, teacherID int64, quizID string) (*model.Quiz, error) {
	q, err := s.store.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if teacherID != 0 && q.TeacherID != teacherID {
		return nil, ErrForbidden
	}
	return q, nil
}

// EditProblem replaces a problem's content. The answer key follows the new
// answer and the old audio is discarded and re-synthesized. Changing the
// word is rejected.
func (s *Service) EditProblem(ctx context.Context, teacherID int64, quizID string, id model.ProblemID, edit ProblemEdit) (*model.Problem, error) {
	if _, err := s.OwnedQuiz(ctx, teacherID, quizID); err != nil {
		return nil, err
	}
	cur, err := s.store.GetProblem(ctx, quizID, id)
	if err != nil {
		return nil, err
	}
	if w := strings.TrimSpace(edit.Word); w != "" && w != cur.Word {
		return nil, invalid("the word of a problem cannot be changed (%q)", cur.Word)
	}
	d := generation.Draft{
		Word:        cur.Word,
		Answer:      strings.TrimSpace(edit.Answer),
		Sentence:    strings.TrimSpace(edit.Sentence),
		Hint:        strings.TrimSpace(edit.Hint),
		Translation: strings.TrimSpace(edit.Translation),
	}
	if err := generation.ValidateDraft(d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return s.replaceContent(ctx, quizID, id, d)
}

// RegenerateProblem asks the generator for fresh content for the problem's
// word, keeping its id.
func (s *Service) RegenerateProblem(ctx context.Context, teacherID int64, quizID string, id model.ProblemID) (*model.Problem, error) {
	q, err := s.OwnedQuiz(ctx, teacherID, quizID)
	if err != nil {
		return nil, err
	}
	cur, err := s.store.GetProblem(ctx, quizID, id)
	if err != nil {
		return nil, err
	}
	d, err := s.gen.Regenerate(ctx, cur.Word, q.Difficulty, q.TranslationLanguage)
	if err != nil {
		return nil, fmt.Errorf("regenerate problem %s: %w", id, err)
	}
	d.Word = cur.Word
	return s.replaceContent(ctx, quizID, id, d)
}

func (s *Service) replaceContent(ctx context.Context, quizID string, id model.ProblemID, d generation.Draft) (*model.Problem, error) {
	p := model.Problem{
		ID:          id,
		Word:        d.Word,
		Answer:      d.Answer,
		Sentence:    d.Sentence,
		Hint:        d.Hint,
		Translation: d.Translation,
	}
	if err := s.store.UpdateProblemContent(ctx, quizID, p); err != nil {
		return nil, fmt.Errorf("update problem %s: %w", id, err)
	}
	slog.Info("problem content replaced", "quiz_id", quizID, "problem_id", id)
	if s.audio != nil {
		s.audio.Refresh(ctx, quizID, id)
	}
	return &p, nil
}

// DeleteQuiz removes a quiz with its problems, answer keys, results, share
// grants and audio files.
func (s *Service) DeleteQuiz(ctx context.Context, teacherID int64, quizID string) error {
	if _, err := s.OwnedQuiz(ctx, teacherID, quizID); err != nil {
		return err
	}
	if err := s.store.DeleteQuiz(ctx, quizID); err != nil {
		return err
	}
	if s.audio != nil {
		s.audio.Forget(quizID)
	}
	if s.blobs != nil {
		if err := s.blobs.DeletePrefix(quizID); err != nil {
			slog.Warn("failed to delete quiz audio", "quiz_id", quizID, "error", err)
		}
	}
	slog.Info("quiz deleted", "quiz_id", quizID)
	return nil
}

// scheduleAudio starts background synthesis for problems without audio. A
// batch already running for the quiz is left alone; the retry sweeper picks
// up anything it misses.
func (s *Service) scheduleAudio(ctx context.Context, quizID string) {
	if s.audio == nil {
		return
	}
	if err := s.audio.Enqueue(ctx, quizID); err != nil {
		slog.Warn("audio not scheduled", "quiz_id", quizID, "error", err)
	}
}
