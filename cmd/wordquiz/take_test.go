package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/wordquiz/wordquiz/internal/grading"
	appI18n "github.com/wordquiz/wordquiz/internal/i18n"
	"github.com/wordquiz/wordquiz/internal/model"
	"github.com/wordquiz/wordquiz/internal/session"
)

func TestSplitShare(t *testing.T) {
	tests := []struct {
		raw, server       string
		wantBase, wantTok string
	}{
		{"abc123", "http://localhost:8080", "http://localhost:8080", "abc123"},
		{"https://quiz.example/s/abc123", "http://localhost:8080", "https://quiz.example", "abc123"},
		{"https://quiz.example/kr/s/abc123/", "", "https://quiz.example/kr", "abc123"},
		{" abc123 ", "http://x", "http://x", "abc123"},
	}
	for _, tt := range tests {
		base, tok := splitShare(tt.raw, tt.server)
		if base != tt.wantBase || tok != tt.wantTok {
			t.Errorf("splitShare(%q) = %q, %q", tt.raw, base, tok)
		}
	}
}

type recordingSubmitter struct {
	got grading.Answers
}

func (r *recordingSubmitter) Submit(_ context.Context, _ string, a grading.Answers) (grading.Outcome, error) {
	r.got = a
	return grading.Outcome{Success: true, ResultID: "r1", Score: 1, Total: 2}, nil
}

func newTerminal(t *testing.T) (*terminal, *bytes.Buffer, *recordingSubmitter) {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	sub := &recordingSubmitter{}
	term := &terminal{out: &buf, ctx: context.Background()}
	eng := session.New(sub, session.WithSeed(7), session.WithOnChange(term.changed))
	t.Cleanup(eng.Close)
	term.eng = eng
	quiz := &model.StudentQuiz{
		ID:          "q1",
		Title:       "Unit 1",
		WordsPerSet: 1,
		Problems: []model.StudentProblem{
			{ID: "p1", Word: "학교", Sentence: "저는 ( ) 가요.", Translation: "I go to school."},
			{ID: "p2", Word: "책", Sentence: "( ) 읽어요.", Translation: "I read a book."},
		},
	}
	if err := eng.Load(context.Background(), quiz); err != nil {
		t.Fatal(err)
	}
	return term, &buf, sub
}

func TestTerminalFlow(t *testing.T) {
	term, buf, sub := newTerminal(t)

	term.handle(":next")
	if !strings.Contains(buf.String(), session.ErrSetIncomplete.Error()) {
		t.Errorf("expected incomplete-set error, got:\n%s", buf)
	}

	first := term.eng.View().Problems[0]
	term.handle(":hint 1")
	if !strings.Contains(buf.String(), "("+first.Translation+")") {
		t.Errorf("translation not shown:\n%s", buf)
	}

	term.handle("1 " + first.Word)
	term.handle(":next")
	if v := term.eng.View(); v.SetIndex != 1 {
		t.Fatalf("set index = %d", v.SetIndex)
	}
	second := term.eng.View().Problems[0]
	term.handle("1 " + second.Word)
	if quit := term.handle(":submit"); quit {
		t.Fatal("submit should not quit")
	}
	select {
	case <-term.eng.Done():
	default:
		t.Fatal("session not completed")
	}
	if sub.got[first.ID] != first.Word || sub.got[second.ID] != second.Word {
		t.Errorf("submitted %v", sub.got)
	}
}

func TestTerminalRejectsBadProblemNumber(t *testing.T) {
	term, buf, _ := newTerminal(t)
	term.handle("9 학교")
	if !strings.Contains(buf.String(), `no problem "9"`) {
		t.Errorf("output:\n%s", buf)
	}
	if !term.handle(":quit") {
		t.Error(":quit should quit")
	}
}
