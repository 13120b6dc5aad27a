package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/wordquiz/wordquiz/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestQuiz(t *testing.T, s *Store, id string, n int) model.Quiz {
	t.Helper()
	secs := 60
	q := model.Quiz{
		ID:                  id,
		TeacherID:           1,
		Title:               "Quiz " + id,
		Difficulty:          model.DifficultyA2,
		TranslationLanguage: "en",
		WordsPerSet:         2,
		TimerEnabled:        true,
		TimerSeconds:        &secs,
	}
	for i := 0; i < n; i++ {
		w := fmt.Sprintf("단어%d", i)
		q.Words = append(q.Words, w)
		q.Problems = append(q.Problems, model.Problem{
			ID:          model.ProblemID(fmt.Sprintf("%s-p%d", id, i)),
			Word:        w,
			Answer:      w + "를",
			Sentence:    "나는 ( ) 좋아해요.",
			Hint:        "object particle",
			Translation: "I like it.",
		})
	}
	if err := s.CreateQuiz(context.Background(), q); err != nil {
		t.Fatalf("CreateQuiz: %v", err)
	}
	return q
}

func TestQuizReadPaths(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	want := insertTestQuiz(t, s, "q1", 3)

	got, err := s.GetQuiz(ctx, "q1")
	if err != nil {
		t.Fatalf("GetQuiz: %v", err)
	}
	if len(got.Problems) != 3 || len(got.Words) != 3 {
		t.Fatalf("got %d problems, %d words", len(got.Problems), len(got.Words))
	}
	for i, p := range got.Problems {
		if p.ID != want.Problems[i].ID || p.Answer != want.Problems[i].Answer {
			t.Errorf("problem %d = %+v, want %+v", i, p, want.Problems[i])
		}
		if p.AudioURL != nil {
			t.Errorf("problem %d has audio %q", i, *p.AudioURL)
		}
	}
	if got.TimerSeconds == nil || *got.TimerSeconds != 60 || !got.TimerEnabled {
		t.Errorf("timer = %v/%v", got.TimerEnabled, got.TimerSeconds)
	}

	sq, err := s.GetStudentQuiz(ctx, "q1")
	if err != nil {
		t.Fatalf("GetStudentQuiz: %v", err)
	}
	if len(sq.Problems) != 3 || sq.Problems[0].ID != want.Problems[0].ID {
		t.Errorf("student problems = %+v", sq.Problems)
	}

	if _, err := s.GetQuiz(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetQuiz(missing) err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetStudentQuiz(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetStudentQuiz(missing) err = %v, want ErrNotFound", err)
	}
}

func TestUpdateProblemKeepsID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	q := insertTestQuiz(t, s, "q1", 2)
	pid := q.Problems[1].ID

	url := "http://x/audio/q1/p.mp3"
	if err := s.SetProblemAudio(ctx, "q1", pid, &url); err != nil {
		t.Fatalf("SetProblemAudio: %v", err)
	}

	original := q.Problems[1]
	edited := original
	edited.Sentence = "저는 ( ) 샀어요."
	edited.Answer = "단어1을"
	edited.Word = q.Problems[0].Word
	if err := s.UpdateProblemContent(ctx, "q1", edited); err != nil {
		t.Fatalf("UpdateProblemContent: %v", err)
	}

	p, err := s.GetProblem(ctx, "q1", pid)
	if err != nil {
		t.Fatalf("GetProblem: %v", err)
	}
	if p.ID != pid || p.Sentence != edited.Sentence || p.Answer != "단어1을" {
		t.Errorf("problem = %+v", p)
	}
	if p.AudioURL != nil {
		t.Error("edit should clear audio")
	}
	if p.Word != original.Word {
		t.Errorf("word = %q, want %q kept", p.Word, original.Word)
	}
	got, _ := s.GetQuiz(ctx, "q1")
	if got.Problems[0].Word == got.Problems[1].Word {
		t.Errorf("two problems share word %q", got.Problems[0].Word)
	}

	edited.ID = "nope"
	if err := s.UpdateProblemContent(ctx, "q1", edited); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing err = %v, want ErrNotFound", err)
	}
}

func TestSetProblemAudioForRejectsStaleContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	q := insertTestQuiz(t, s, "q1", 1)
	before := q.Problems[0]

	after := before
	after.Sentence = "오늘 ( ) 샀어요."
	if err := s.UpdateProblemContent(ctx, "q1", after); err != nil {
		t.Fatalf("UpdateProblemContent: %v", err)
	}

	if err := s.SetProblemAudioFor(ctx, "q1", before, "http://x/old.mp3"); !errors.Is(err, ErrStaleContent) {
		t.Errorf("stale write err = %v, want ErrStaleContent", err)
	}
	p, _ := s.GetProblem(ctx, "q1", before.ID)
	if p.AudioURL != nil {
		t.Errorf("stale audio stored: %q", *p.AudioURL)
	}

	if err := s.SetProblemAudioFor(ctx, "q1", after, "http://x/new.mp3"); err != nil {
		t.Fatalf("SetProblemAudioFor: %v", err)
	}
	p, _ = s.GetProblem(ctx, "q1", before.ID)
	if p.AudioURL == nil || *p.AudioURL != "http://x/new.mp3" {
		t.Errorf("audio = %v", p.AudioURL)
	}

	missing := after
	missing.ID = "nope"
	if err := s.SetProblemAudioFor(ctx, "q1", missing, "u"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing problem err = %v, want ErrNotFound", err)
	}
}

func TestListQuizzesAndMissingAudio(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	q := insertTestQuiz(t, s, "q1", 3)
	insertTestQuiz(t, s, "q2", 1)

	url := "http://x/a.mp3"
	if err := s.SetProblemAudio(ctx, "q1", q.Problems[0].ID, &url); err != nil {
		t.Fatalf("SetProblemAudio: %v", err)
	}

	list, err := s.ListQuizzes(ctx, 1)
	if err != nil {
		t.Fatalf("ListQuizzes: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d quizzes, want 2", len(list))
	}
	byID := map[string]model.QuizSummary{}
	for _, qs := range list {
		byID[qs.ID] = qs
	}
	if byID["q1"].NumProblems != 3 || byID["q1"].MissingAudio != 2 {
		t.Errorf("q1 summary = %+v", byID["q1"])
	}

	missing, err := s.ListMissingAudio(ctx, 10)
	if err != nil {
		t.Fatalf("ListMissingAudio: %v", err)
	}
	if len(missing) != 3 {
		t.Errorf("missing = %d, want 3", len(missing))
	}
	for _, m := range missing {
		if m.Problem.Answer == "" {
			t.Errorf("missing audio job %s lacks answer", m.Problem.ID)
		}
	}
	if limited, _ := s.ListMissingAudio(ctx, 1); len(limited) != 1 {
		t.Errorf("limit not applied: %d", len(limited))
	}
}

func TestDeleteQuiz(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertTestQuiz(t, s, "q1", 2)
	if _, err := s.CreateShareGrant(ctx, model.ShareGrant{QuizID: "q1", MaxAttempts: 3}); err != nil {
		t.Fatalf("CreateShareGrant: %v", err)
	}

	if err := s.DeleteQuiz(ctx, "q1"); err != nil {
		t.Fatalf("DeleteQuiz: %v", err)
	}
	if _, err := s.GetQuiz(ctx, "q1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetQuiz after delete err = %v", err)
	}
	if err := s.DeleteQuiz(ctx, "q1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

var resultSeq int

func gradeAll(correct bool) GradeFunc {
	return func(keys []model.AnswerKey) (model.Result, error) {
		resultSeq++
		r := model.Result{ID: fmt.Sprintf("r-%d", resultSeq), TotalQuestions: len(keys)}
		for _, k := range keys {
			r.Answers = append(r.Answers, model.AnswerRecord{ProblemID: k.ProblemID, Word: k.Word, CorrectAnswer: k.CorrectAnswer, IsCorrect: correct})
			if correct {
				r.Score++
			}
		}
		return r, nil
	}
}

func TestRecordResultConsumesShareAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertTestQuiz(t, s, "q1", 2)
	g, err := s.CreateShareGrant(ctx, model.ShareGrant{QuizID: "q1", AllowAnonymous: true, MaxAttempts: 2})
	if err != nil {
		t.Fatalf("CreateShareGrant: %v", err)
	}
	taker := model.Taker{AnonymousName: "민지", ShareToken: g.Token}
	now := time.Now()

	for i := 0; i < 2; i++ {
		res, err := s.RecordResult(ctx, "q1", taker, now, gradeAll(true))
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if res.Score != 2 || res.QuizID != "q1" {
			t.Errorf("result = %+v", res)
		}
	}
	if _, err := s.RecordResult(ctx, "q1", taker, now, gradeAll(true)); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("third attempt err = %v, want ErrAttemptsExhausted", err)
	}

	if n, _ := s.CountResults(ctx, "q1"); n != 2 {
		t.Errorf("results = %d, want 2", n)
	}
	got, err := s.GetShareGrant(ctx, g.Token)
	if err != nil {
		t.Fatalf("GetShareGrant: %v", err)
	}
	if got.CompletionCount != 2 || got.ViewCount != 0 {
		t.Errorf("grant counts = %d completions, %d views", got.CompletionCount, got.ViewCount)
	}
}

func TestRecordResultRollsBackOnGradeError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertTestQuiz(t, s, "q1", 1)
	g, _ := s.CreateShareGrant(ctx, model.ShareGrant{QuizID: "q1", MaxAttempts: 1})

	boom := errors.New("boom")
	_, err := s.RecordResult(ctx, "q1", model.Taker{AnonymousName: "a", ShareToken: g.Token}, time.Now(),
		func([]model.AnswerKey) (model.Result, error) { return model.Result{}, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	got, _ := s.GetShareGrant(ctx, g.Token)
	if got.CompletionCount != 0 {
		t.Errorf("completion count = %d after rollback, want 0", got.CompletionCount)
	}
}

func TestRecordResultExpiredShare(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertTestQuiz(t, s, "q1", 1)
	past := time.Now().Add(-time.Hour)
	g, _ := s.CreateShareGrant(ctx, model.ShareGrant{QuizID: "q1", MaxAttempts: 3, ExpiresAt: &past})

	_, err := s.RecordResult(ctx, "q1", model.Taker{AnonymousName: "a", ShareToken: g.Token}, time.Now(), gradeAll(true))
	if !errors.Is(err, ErrShareExpired) {
		t.Errorf("err = %v, want ErrShareExpired", err)
	}
}

func TestViewShareGrant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	teacherID, err := s.CreateUser(ctx, model.User{Username: "kim", DisplayName: "Ms. Kim", Role: model.UserRoleTeacher, Active: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	q := model.Quiz{ID: "q9", TeacherID: teacherID, Title: "t", Difficulty: model.DifficultyA1, TranslationLanguage: "en", WordsPerSet: 1}
	if err := s.CreateQuiz(ctx, q); err != nil {
		t.Fatalf("CreateQuiz: %v", err)
	}
	g, _ := s.CreateShareGrant(ctx, model.ShareGrant{QuizID: "q9", MaxAttempts: 3})

	for i := 1; i <= 2; i++ {
		got, teacher, err := s.ViewShareGrant(ctx, g.Token)
		if err != nil {
			t.Fatalf("ViewShareGrant: %v", err)
		}
		if got.ViewCount != i || got.CompletionCount != 0 {
			t.Errorf("view %d: counts = %d views, %d completions", i, got.ViewCount, got.CompletionCount)
		}
		if teacher != "Ms. Kim" {
			t.Errorf("teacher = %q", teacher)
		}
	}
	if _, _, err := s.ViewShareGrant(ctx, "bogus"); !errors.Is(err, ErrNotFound) {
		t.Errorf("bogus token err = %v, want ErrNotFound", err)
	}
}

func TestUsersAndAuthSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateUser(ctx, model.User{Username: "lee", DisplayName: "Lee", PasswordHash: "x", Role: model.UserRoleStudent, Active: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	u, err := s.GetUserByUsername(ctx, "lee")
	if err != nil || u == nil || u.ID != id || !u.Active || u.Role != model.UserRoleStudent {
		t.Fatalf("GetUserByUsername = %+v, %v", u, err)
	}
	if u, err := s.GetUserByUsername(ctx, "nobody"); u != nil || err != nil {
		t.Errorf("missing user = %+v, %v; want nil, nil", u, err)
	}
	if n, _ := s.UserCount(ctx); n != 1 {
		t.Errorf("UserCount = %d", n)
	}
	if err := s.SetUserActive(ctx, id, false); err != nil {
		t.Fatalf("SetUserActive: %v", err)
	}
	if u, _ := s.GetUserByID(ctx, id); u.Active {
		t.Error("user still active")
	}

	tok, err := s.CreateAuthSession(ctx, id)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	sess, err := s.GetAuthSession(ctx, tok)
	if err != nil || sess == nil || sess.UserID != id {
		t.Fatalf("GetAuthSession = %+v, %v", sess, err)
	}
	if err := s.DeleteAuthSession(ctx, tok); err != nil {
		t.Fatalf("DeleteAuthSession: %v", err)
	}
	if sess, _ := s.GetAuthSession(ctx, tok); sess != nil {
		t.Error("session still present after delete")
	}
}

func TestExportResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertTestQuiz(t, s, "q1", 2)
	taker := model.Taker{StudentID: 7}
	if _, err := s.RecordResult(ctx, "q1", taker, time.Now(), gradeAll(false)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordResult(ctx, "q1", taker, time.Now().Add(time.Second), gradeAll(true)); err != nil {
		t.Fatal(err)
	}

	exp, err := s.ExportResults(ctx, "q1")
	if err != nil {
		t.Fatalf("ExportResults: %v", err)
	}
	if exp.NumProblems != 2 || len(exp.Results) != 2 {
		t.Fatalf("export = %+v", exp)
	}
	if exp.Results[1].AttemptNumber != 2 {
		t.Errorf("second attempt number = %d", exp.Results[1].AttemptNumber)
	}
	if exp.Summary.AverageScore != 1 || exp.Summary.MissedWords["단어0"] != 1 {
		t.Errorf("summary = %+v", exp.Summary)
	}
}

func TestMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if v, _ := s.GetMetadata(ctx, "schema_version"); v != schemaVersion {
		t.Errorf("schema_version = %q", v)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.SetTime(ctx, "k", now); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.GetTime(ctx, "k"); !got.Equal(now) {
		t.Errorf("GetTime = %v", got)
	}
	if got, _ := s.GetTime(ctx, "absent"); !got.IsZero() {
		t.Errorf("absent key = %v", got)
	}
}
