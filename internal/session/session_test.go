package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/wordquiz/wordquiz/internal/grading"
	"github.com/wordquiz/wordquiz/internal/model"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	calls   []grading.Answers
	err     error
	called  chan struct{}
	release chan struct{}
}

func (f *fakeSubmitter) Submit(ctx context.Context, quizID string, answers grading.Answers) (grading.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, answers)
	err := f.err
	f.mu.Unlock()
	if f.called != nil {
		f.called <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if err != nil {
		return grading.Outcome{}, err
	}
	score := 0
	for _, a := range answers {
		if a != "" {
			score++
		}
	}
	return grading.Outcome{Success: true, ResultID: "r1", Score: score, Total: len(answers)}, nil
}

func testQuiz(n, perSet int, timer int) *model.StudentQuiz {
	q := &model.StudentQuiz{ID: "quiz", Title: "Test", WordsPerSet: perSet}
	if timer > 0 {
		q.TimerEnabled = true
		q.TimerSeconds = &timer
	}
	for i := 0; i < n; i++ {
		q.Problems = append(q.Problems, model.StudentProblem{
			ID:       model.ProblemID(fmt.Sprintf("p%d", i)),
			Word:     fmt.Sprintf("w%d", i),
			Sentence: "( ) 있어요.",
		})
	}
	return q
}

func loadEngine(t *testing.T, q *model.StudentQuiz, sub Submitter, opts ...Option) *Engine {
	t.Helper()
	e := New(sub, append([]Option{WithSeed(42)}, opts...)...)
	if err := e.Load(context.Background(), q); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func answerSet(t *testing.T, e *Engine) {
	t.Helper()
	for _, p := range e.View().Problems {
		if err := e.SetAnswer(p.ID, "answer"); err != nil {
			t.Fatalf("SetAnswer(%s): %v", p.ID, err)
		}
	}
}

func TestPartition(t *testing.T) {
	tests := []struct {
		n, per int
		want   []int
	}{
		{5, 2, []int{2, 2, 1}},
		{4, 2, []int{2, 2}},
		{3, 5, []int{3}},
		{3, 0, []int{1, 1, 1}},
		{0, 2, nil},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_by_%d", tt.n, tt.per), func(t *testing.T) {
			sets := Partition(testQuiz(tt.n, tt.per, 0).Problems, tt.per)
			var sizes []int
			for _, s := range sets {
				sizes = append(sizes, len(s))
			}
			if !slices.Equal(sizes, tt.want) {
				t.Errorf("sizes = %v, want %v", sizes, tt.want)
			}
		})
	}
}

func TestNavigationGates(t *testing.T) {
	e := loadEngine(t, testQuiz(5, 2, 0), &fakeSubmitter{})

	v := e.View()
	if v.State != InSet || v.SetCount != 3 || len(v.Problems) != 2 {
		t.Fatalf("initial view = %+v", v)
	}

	if err := e.Next(); !errors.Is(err, ErrSetIncomplete) {
		t.Fatalf("Next on empty set err = %v, want ErrSetIncomplete", err)
	}
	if err := e.SetAnswer(v.Problems[0].ID, "x"); err != nil {
		t.Fatal(err)
	}
	if err := e.SetAnswer(v.Problems[1].ID, "   "); err != nil {
		t.Fatal(err)
	}
	if err := e.Next(); !errors.Is(err, ErrSetIncomplete) {
		t.Fatalf("Next with blank answer err = %v, want ErrSetIncomplete", err)
	}
	answerSet(t, e)
	if err := e.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got := e.View().SetIndex; got != 1 {
		t.Fatalf("set = %d, want 1", got)
	}

	// Backward is allowed with set 1 untouched.
	if err := e.Prev(); err != nil {
		t.Fatalf("Prev: %v", err)
	}
	if err := e.Prev(); !errors.Is(err, ErrNoSuchSet) {
		t.Errorf("Prev from set 0 err = %v", err)
	}

	if _, err := e.Submit(context.Background()); !errors.Is(err, ErrNotLastSet) {
		t.Errorf("Submit from set 0 err = %v, want ErrNotLastSet", err)
	}

	if err := e.Next(); err != nil {
		t.Fatal(err)
	}
	answerSet(t, e)
	if err := e.Next(); err != nil {
		t.Fatal(err)
	}
	v = e.View()
	if v.SetIndex != 2 || len(v.Problems) != 1 {
		t.Fatalf("last set view = %+v", v)
	}
	if err := e.Next(); !errors.Is(err, ErrNoSuchSet) {
		t.Errorf("Next past last set err = %v", err)
	}
}

func TestSubmitRequiresEveryAnswer(t *testing.T) {
	sub := &fakeSubmitter{}
	e := loadEngine(t, testQuiz(3, 2, 0), sub)
	answerSet(t, e)
	if err := e.Next(); err != nil {
		t.Fatal(err)
	}
	// Clear an answer from the first set while on the last one.
	first := e.sets[0][0].ID
	if err := e.SetAnswer(first, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Submit(context.Background()); !errors.Is(err, ErrQuizIncomplete) {
		t.Fatalf("Submit err = %v, want ErrQuizIncomplete", err)
	}
	if err := e.SetAnswer(first, "again"); err != nil {
		t.Fatal(err)
	}
	answerSet(t, e)

	out, err := e.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Score != 3 || out.Total != 3 || e.State() != Completed {
		t.Errorf("outcome = %+v, state = %v", out, e.State())
	}
	if len(sub.calls) != 1 || len(sub.calls[0]) != 3 {
		t.Errorf("payload = %v", sub.calls)
	}
	select {
	case <-e.Done():
	default:
		t.Error("Done not closed after completion")
	}
	if err := e.SetAnswer(first, "late"); !errors.Is(err, ErrWrongState) {
		t.Errorf("SetAnswer after completion err = %v", err)
	}
}

func TestSubmitFailureReturnsToLastSet(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("network down")}
	e := loadEngine(t, testQuiz(2, 2, 0), sub)
	answerSet(t, e)

	if _, err := e.Submit(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	v := e.View()
	if v.State != InSet || v.Err == nil {
		t.Fatalf("state after failure = %v, err = %v", v.State, v.Err)
	}

	sub.mu.Lock()
	sub.err = nil
	sub.mu.Unlock()
	if _, err := e.Submit(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if e.State() != Completed {
		t.Errorf("state = %v", e.State())
	}
}

func TestTimerForcesSubmission(t *testing.T) {
	sub := &fakeSubmitter{}
	e := loadEngine(t, testQuiz(5, 2, 5), sub, WithTicks(make(chan time.Time)))
	if err := e.SetAnswer(e.View().Problems[0].ID, "only one"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 4; i++ {
		if e.Tick() {
			t.Fatalf("tick %d forced a submission", i+1)
		}
	}
	if got := e.Remaining(); got != 1 {
		t.Fatalf("remaining = %d, want 1", got)
	}
	if !e.Tick() {
		t.Fatal("fifth tick did not submit")
	}
	if e.State() != Completed {
		t.Fatalf("state = %v, want Completed", e.State())
	}
	if len(sub.calls) != 1 {
		t.Fatalf("submissions = %d", len(sub.calls))
	}
	payload := sub.calls[0]
	if len(payload) != 5 {
		t.Errorf("payload has %d answers, want all 5", len(payload))
	}
	empty := 0
	for _, a := range payload {
		if a == "" {
			empty++
		}
	}
	if empty != 4 {
		t.Errorf("empty answers = %d, want 4", empty)
	}
	if e.Tick() {
		t.Error("tick after completion should do nothing")
	}
}

func TestExpiryDuringFailedSubmitResubmits(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("network down"), called: make(chan struct{}), release: make(chan struct{})}
	e := loadEngine(t, testQuiz(2, 2, 1), sub, WithTicks(make(chan time.Time)))
	answerSet(t, e)

	type result struct {
		out grading.Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := e.Submit(context.Background())
		done <- result{out, err}
	}()
	<-sub.called

	if e.Tick() {
		t.Error("tick during a manual submission should not submit again")
	}
	sub.mu.Lock()
	sub.err = nil
	sub.mu.Unlock()
	close(sub.release)
	<-sub.called

	var res result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit did not return")
	}
	if res.err != nil || res.out.ResultID != "r1" {
		t.Fatalf("Submit = %+v, %v", res.out, res.err)
	}
	if e.State() != Completed {
		t.Errorf("state = %v, want Completed", e.State())
	}
	if len(sub.calls) != 2 {
		t.Errorf("submissions = %d, want 2", len(sub.calls))
	}
	if v := e.View(); !v.Expired || v.Err != nil {
		t.Errorf("final view expired = %v, err = %v", v.Expired, v.Err)
	}
}

func TestTimerGoroutineSkipsGate(t *testing.T) {
	sub := &fakeSubmitter{called: make(chan struct{}), release: make(chan struct{})}
	ticks := make(chan time.Time)
	e := loadEngine(t, testQuiz(5, 2, 5), sub, WithTicks(ticks))

	for i := 0; i < 5; i++ {
		ticks <- time.Now()
	}
	<-sub.called
	if got := e.State(); got != Submitting {
		t.Errorf("state during forced submission = %v, want Submitting", got)
	}
	if err := e.Next(); !errors.Is(err, ErrWrongState) {
		t.Errorf("Next while submitting err = %v", err)
	}
	close(sub.release)

	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not complete")
	}
	if v := e.View(); !v.Expired || v.Outcome == nil || v.Outcome.Score != 0 {
		t.Errorf("final view = %+v", v)
	}
}

func TestCloseStopsTimer(t *testing.T) {
	ticks := make(chan time.Time)
	e := New(&fakeSubmitter{}, WithTicks(ticks))
	if err := e.Load(context.Background(), testQuiz(2, 2, 60)); err != nil {
		t.Fatal(err)
	}
	e.Close()
	e.Close()
	select {
	case ticks <- time.Now():
		t.Error("timer goroutine still receiving after Close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWordBankStable(t *testing.T) {
	e := loadEngine(t, testQuiz(6, 3, 0), &fakeSubmitter{})

	first, err := e.WordBank(0)
	if err != nil {
		t.Fatal(err)
	}
	answerSet(t, e)
	again, _ := e.WordBank(0)
	if !slices.Equal(first, again) {
		t.Errorf("bank changed between renders: %v vs %v", first, again)
	}

	var setWords []string
	for _, p := range e.sets[0] {
		setWords = append(setWords, p.Word)
	}
	sorted := slices.Clone(first)
	slices.Sort(sorted)
	slices.Sort(setWords)
	if !slices.Equal(sorted, setWords) {
		t.Errorf("bank %v does not hold the set's words %v", first, setWords)
	}

	if err := e.Next(); err != nil {
		t.Fatal(err)
	}
	if err := e.Prev(); err != nil {
		t.Fatal(err)
	}
	if got := e.View().WordBank; !slices.Equal(got, first) {
		t.Errorf("bank after revisit = %v, want %v", got, first)
	}

	if !slices.Equal(WordBank(e.sets[1], 42, 1), WordBank(e.sets[1], 42, 1)) {
		t.Error("WordBank is not deterministic")
	}
	if _, err := e.WordBank(9); !errors.Is(err, ErrNoSuchSet) {
		t.Errorf("WordBank(9) err = %v", err)
	}
}

func TestSameSeedSameOrder(t *testing.T) {
	a := loadEngine(t, testQuiz(8, 3, 0), &fakeSubmitter{})
	b := loadEngine(t, testQuiz(8, 3, 0), &fakeSubmitter{})
	if !slices.Equal(a.View().Problems, b.View().Problems) {
		t.Error("same seed produced different problem order")
	}
}

func TestLoadErrors(t *testing.T) {
	e := New(&fakeSubmitter{})
	if err := e.Load(context.Background(), &model.StudentQuiz{ID: "x", WordsPerSet: 2}); !errors.Is(err, ErrEmptyQuiz) {
		t.Errorf("empty quiz err = %v", err)
	}
	if err := e.SetAnswer("p0", "x"); !errors.Is(err, ErrWrongState) {
		t.Errorf("SetAnswer while loading err = %v", err)
	}
	e2 := loadEngine(t, testQuiz(1, 1, 0), &fakeSubmitter{})
	if err := e2.Load(context.Background(), testQuiz(1, 1, 0)); !errors.Is(err, ErrWrongState) {
		t.Errorf("second Load err = %v", err)
	}
	if err := e2.SetAnswer("nope", "x"); !errors.Is(err, ErrUnknownProblem) {
		t.Errorf("unknown problem err = %v", err)
	}
}

func TestToggleTranslationNotSubmitted(t *testing.T) {
	sub := &fakeSubmitter{}
	e := loadEngine(t, testQuiz(1, 1, 0), sub)
	id := e.View().Problems[0].ID
	on, err := e.ToggleTranslation(id)
	if err != nil || !on {
		t.Fatalf("ToggleTranslation = %v, %v", on, err)
	}
	if !e.View().Revealed[id] {
		t.Error("view does not show reveal")
	}
	answerSet(t, e)
	if _, err := e.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sub.calls[0]) != 1 {
		t.Errorf("payload = %v", sub.calls[0])
	}
}
