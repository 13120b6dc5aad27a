// Package session drives one attempt at a quiz: set navigation, the
// countdown timer, per-problem aids and the final submission.
//
// The engine never sees answer keys. It hands the raw answers to a Submitter
// and shows whatever the grader returns.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/wordquiz/wordquiz/internal/grading"
	"github.com/wordquiz/wordquiz/internal/model"
)

// State is the phase of a session.
type State int

const (
	Loading State = iota
	InSet
	Submitting
	Completed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case InSet:
		return "in_set"
	case Submitting:
		return "submitting"
	case Completed:
		return "completed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrSetIncomplete  = errors.New("answer every problem in this set first")
	ErrQuizIncomplete = errors.New("answer every problem before submitting")
	ErrNotLastSet     = errors.New("submission is only possible from the last set")
	ErrNoSuchSet      = errors.New("no set in that direction")
	ErrWrongState     = errors.New("operation not allowed in current state")
	ErrUnknownProblem = errors.New("problem is not part of this quiz")
	ErrEmptyQuiz      = errors.New("quiz has no problems")
)

// Submitter sends a finished attempt to the grader.
type Submitter interface {
	Submit(ctx context.Context, quizID string, answers grading.Answers) (grading.Outcome, error)
}

// View is a consistent snapshot for rendering.
type View struct {
	State        State
	SetIndex     int
	SetCount     int
	Problems     []model.StudentProblem
	WordBank     []string
	Answers      map[model.ProblemID]string
	Revealed     map[model.ProblemID]bool
	TimerEnabled bool
	Remaining    int
	Expired      bool
	Outcome      *grading.Outcome
	Err          error
}

// Engine is the state machine of a single taking session. It is safe for
// concurrent use by the UI and the timer goroutine.
type Engine struct {
	submitter Submitter
	seed      uint64
	ticks     <-chan time.Time
	onChange  func()
	player    *Player

	mu        sync.Mutex
	ctx       context.Context
	quiz      *model.StudentQuiz
	sets      [][]model.StudentProblem
	byID      map[model.ProblemID]model.StudentProblem
	state     State
	setIndex  int
	answers   map[model.ProblemID]string
	revealed  map[model.ProblemID]bool
	banks     map[int][]string
	timerOn   bool
	remaining int
	expired   bool
	outcome   *grading.Outcome
	lastErr   error

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithSeed fixes the shuffle seed. By default a random one is drawn.
func WithSeed(seed uint64) Option { return func(e *Engine) { e.seed = seed } }

// WithTicks replaces the one-second ticker that drives the countdown.
func WithTicks(c <-chan time.Time) Option { return func(e *Engine) { e.ticks = c } }

// WithOnChange registers a callback run after the timer or a submission
// changes the session. It is called without internal locks held.
func WithOnChange(fn func()) Option { return func(e *Engine) { e.onChange = fn } }

// WithPlayer enables audio playback.
func WithPlayer(p *Player) Option { return func(e *Engine) { e.player = p } }

func New(submitter Submitter, opts ...Option) *Engine {
	e := &Engine{
		submitter: submitter,
		seed:      randomSeed(),
		state:     Loading,
		answers:   make(map[model.ProblemID]string),
		revealed:  make(map[model.ProblemID]bool),
		banks:     make(map[int][]string),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Load shuffles the quiz once, partitions it into sets, enters the first set
// and starts the countdown when the quiz has a timer. ctx is used for a
// timer-forced submission.
func (e *Engine) Load(ctx context.Context, quiz *model.StudentQuiz) error {
	e.mu.Lock()
	if e.state != Loading {
		e.mu.Unlock()
		return ErrWrongState
	}
	if quiz == nil || len(quiz.Problems) == 0 {
		e.mu.Unlock()
		return ErrEmptyQuiz
	}
	e.ctx = ctx
	e.quiz = quiz
	e.byID = make(map[model.ProblemID]model.StudentProblem, len(quiz.Problems))
	for _, p := range quiz.Problems {
		e.byID[p.ID] = p
		e.answers[p.ID] = ""
	}
	e.sets = Partition(shuffleProblems(quiz.Problems, e.seed), quiz.WordsPerSet)
	e.state = InSet
	e.setIndex = 0
	if quiz.TimerEnabled && quiz.TimerSeconds != nil && *quiz.TimerSeconds > 0 {
		e.timerOn = true
		e.remaining = *quiz.TimerSeconds
	}
	timerOn := e.timerOn
	e.mu.Unlock()

	slog.Debug("session loaded", "quiz_id", quiz.ID, "sets", len(e.sets), "timer", timerOn)
	if timerOn {
		e.startTimer()
	}
	return nil
}

// State returns the current phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Remaining returns the seconds left on the countdown.
func (e *Engine) Remaining() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remaining
}

// Done is closed once the session reaches Completed.
func (e *Engine) Done() <-chan struct{} { return e.done }

// View returns a snapshot of the session.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := View{
		State:        e.state,
		SetIndex:     e.setIndex,
		SetCount:     len(e.sets),
		Answers:      make(map[model.ProblemID]string, len(e.answers)),
		Revealed:     make(map[model.ProblemID]bool, len(e.revealed)),
		TimerEnabled: e.timerOn,
		Remaining:    e.remaining,
		Expired:      e.expired,
		Outcome:      e.outcome,
		Err:          e.lastErr,
	}
	for k, a := range e.answers {
		v.Answers[k] = a
	}
	for k, r := range e.revealed {
		v.Revealed[k] = r
	}
	if e.state != Loading && e.setIndex < len(e.sets) {
		v.Problems = append(v.Problems, e.sets[e.setIndex]...)
		v.WordBank = append(v.WordBank, e.bankLocked(e.setIndex)...)
	}
	return v
}

// WordBank returns the shuffled words of a set. Repeated calls for the same
// set return the same order.
func (e *Engine) WordBank(setIndex int) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if setIndex < 0 || setIndex >= len(e.sets) {
		return nil, ErrNoSuchSet
	}
	return append([]string(nil), e.bankLocked(setIndex)...), nil
}

func (e *Engine) bankLocked(i int) []string {
	b, ok := e.banks[i]
	if !ok {
		b = WordBank(e.sets[i], e.seed, i)
		e.banks[i] = b
	}
	return b
}

// SetAnswer records the raw answer for a problem anywhere in the quiz.
func (e *Engine) SetAnswer(id model.ProblemID, answer string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != InSet {
		return ErrWrongState
	}
	if _, ok := e.byID[id]; !ok {
		return ErrUnknownProblem
	}
	e.answers[id] = answer
	return nil
}

// Next moves forward once every problem of the current set is answered.
func (e *Engine) Next() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != InSet {
		return ErrWrongState
	}
	if e.setIndex+1 >= len(e.sets) {
		return ErrNoSuchSet
	}
	for _, p := range e.sets[e.setIndex] {
		if blank(e.answers[p.ID]) {
			return ErrSetIncomplete
		}
	}
	e.setIndex++
	return nil
}

// Prev moves back one set regardless of answers.
func (e *Engine) Prev() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != InSet {
		return ErrWrongState
	}
	if e.setIndex == 0 {
		return ErrNoSuchSet
	}
	e.setIndex--
	return nil
}

// ToggleTranslation flips the translation reveal of a problem and returns
// the new state. It has no effect on the submission.
func (e *Engine) ToggleTranslation(id model.ProblemID) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byID[id]; !ok {
		return false, ErrUnknownProblem
	}
	e.revealed[id] = !e.revealed[id]
	return e.revealed[id], nil
}

// PlayAudio plays the clip of a problem, stopping any clip already playing.
func (e *Engine) PlayAudio(id model.ProblemID) error {
	e.mu.Lock()
	p, ok := e.byID[id]
	e.mu.Unlock()
	if !ok {
		return ErrUnknownProblem
	}
	if e.player == nil || p.AudioURL == nil {
		return fmt.Errorf("no audio for problem %s", id)
	}
	e.player.Play(*p.AudioURL)
	return nil
}

// Submit sends the attempt from the last set once every problem is answered.
// After the timer has expired the completeness checks are skipped. On
// failure the session returns to the last set so the caller can retry.
func (e *Engine) Submit(ctx context.Context) (grading.Outcome, error) {
	e.mu.Lock()
	if e.state != InSet {
		e.mu.Unlock()
		return grading.Outcome{}, ErrWrongState
	}
	if !e.expired {
		if e.setIndex != len(e.sets)-1 {
			e.mu.Unlock()
			return grading.Outcome{}, ErrNotLastSet
		}
		for _, a := range e.answers {
			if blank(a) {
				e.mu.Unlock()
				return grading.Outcome{}, ErrQuizIncomplete
			}
		}
	}
	payload := e.beginSubmitLocked()
	e.mu.Unlock()
	return e.finishSubmit(ctx, payload, false)
}

// Tick advances the countdown by one second. When it reaches zero in a set,
// the attempt is submitted as it stands. Tick reports whether it triggered
// that forced submission.
func (e *Engine) Tick() bool {
	e.mu.Lock()
	if !e.timerOn || e.remaining <= 0 || e.state == Completed || e.state == Loading {
		e.mu.Unlock()
		return false
	}
	e.remaining--
	if e.remaining > 0 {
		e.mu.Unlock()
		e.changed()
		return false
	}
	e.expired = true
	if e.state != InSet {
		// A manual submission is in flight; finishSubmit resubmits if it fails.
		e.mu.Unlock()
		return false
	}
	payload := e.beginSubmitLocked()
	ctx := e.ctx
	e.mu.Unlock()

	slog.Info("timer expired, submitting", "quiz_id", e.quiz.ID)
	if _, err := e.finishSubmit(ctx, payload, true); err != nil {
		slog.Warn("forced submission failed", "quiz_id", e.quiz.ID, "error", err)
	}
	return true
}

// beginSubmitLocked moves to Submitting and captures an answer for every
// problem of the quiz, empty when unanswered.
func (e *Engine) beginSubmitLocked() grading.Answers {
	e.state = Submitting
	e.lastErr = nil
	payload := make(grading.Answers, len(e.byID))
	for id := range e.byID {
		payload[id] = e.answers[id]
	}
	return payload
}

// finishSubmit sends payload and records the outcome. If a manual
// submission fails after the countdown reached zero while it was in flight,
// the forced submission that Tick skipped is made once here.
func (e *Engine) finishSubmit(ctx context.Context, payload grading.Answers, forced bool) (grading.Outcome, error) {
	out, err := e.submitter.Submit(ctx, e.quiz.ID, payload)
	e.mu.Lock()
	if err != nil {
		e.state = InSet
		e.setIndex = len(e.sets) - 1
		e.lastErr = err
		if e.expired && !forced {
			payload = e.beginSubmitLocked()
			fctx := e.ctx
			e.mu.Unlock()
			slog.Warn("submission failed after timer expired, resubmitting", "quiz_id", e.quiz.ID, "error", err)
			return e.finishSubmit(fctx, payload, true)
		}
		e.mu.Unlock()
		e.changed()
		return out, fmt.Errorf("submit attempt: %w", err)
	}
	e.state = Completed
	e.outcome = &out
	e.mu.Unlock()

	slog.Info("attempt submitted", "quiz_id", e.quiz.ID, "result_id", out.ResultID, "score", out.Score, "total", out.Total, "forced", forced)
	close(e.done)
	e.halt()
	e.changed()
	return out, nil
}

// Close stops the timer and any playing audio. It is safe to call more than
// once and from any exit path.
func (e *Engine) Close() {
	e.halt()
	e.wg.Wait()
	if e.player != nil {
		e.player.Stop()
	}
}

func (e *Engine) halt() {
	e.stopOnce.Do(func() { close(e.stop) })
}

func (e *Engine) changed() {
	if e.onChange != nil {
		e.onChange()
	}
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }
