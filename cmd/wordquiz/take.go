package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/wordquiz/wordquiz/internal/client"
	appI18n "github.com/wordquiz/wordquiz/internal/i18n"
	"github.com/wordquiz/wordquiz/internal/model"
	"github.com/wordquiz/wordquiz/internal/session"
)

func takeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "take",
		Short: "Take a quiz in the terminal",
		Long: `Take a quiz in the terminal, either through a share link
(--share, no account needed) or as a signed-in student (--quiz with --user).`,
		RunE: runTake,
	}
	f := cmd.Flags()
	f.String("server", "http://localhost:8080", "Server base URL")
	f.String("share", "", "Share link or share token")
	f.String("quiz", "", "Quiz ID (student accounts)")
	f.StringP("user", "u", "", "Student username")
	f.String("password", "", "Student password (or set WORDQUIZ_PASSWORD)")
	f.String("name", "", "Name shown to the teacher when taking through a share link")
	f.Uint64("seed", 0, "Shuffle seed (0 = random)")
	f.StringP("lang", "l", "en", "Message language (en, ko)")
	addLogFlags(f)
	return cmd
}

// splitShare accepts either a bare token or a full share link and returns
// the server base URL and the token.
func splitShare(raw, server string) (string, string) {
	raw = strings.TrimSpace(raw)
	if i := strings.LastIndex(raw, "/s/"); i >= 0 && strings.Contains(raw, "://") {
		return raw[:i], strings.Trim(raw[i+3:], "/")
	}
	return server, raw
}

func runTake(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx = appI18n.WithLocalizer(ctx, appI18n.NewLocalizer(lang))

	server, shareToken := splitShare(v.GetString("share"), v.GetString("server"))
	c := client.New(server, client.WithLanguage(lang))
	t := &terminal{out: cmd.OutOrStdout(), ctx: ctx}
	lines := readLines(cmd.InOrStdin())

	var quiz *model.StudentQuiz
	switch {
	case shareToken != "":
		name := v.GetString("name")
		if name == "" {
			t.printf("%s: ", appI18n.T(ctx, "YourName"))
			name = <-lines
		}
		start, err := c.StartShare(ctx, shareToken, name)
		if err != nil {
			return err
		}
		quiz = start.Quiz
		t.println(appI18n.Tp(ctx, "AttemptsLeft", start.RemainingAttempts))
	case v.GetString("quiz") != "":
		if _, err := c.Login(ctx, v.GetString("user"), v.GetString("password")); err != nil {
			return err
		}
		q, err := c.FetchQuiz(ctx, v.GetString("quiz"))
		if err != nil {
			return err
		}
		quiz = q
	default:
		return errors.New("either --share or --quiz is required")
	}

	opts := []session.Option{
		session.WithOnChange(t.changed),
		session.WithPlayer(session.NewPlayer(linkOutput{t: t, base: server})),
	}
	if seed := v.GetUint64("seed"); seed != 0 {
		opts = append(opts, session.WithSeed(seed))
	}
	eng := session.New(c, opts...)
	defer eng.Close()
	t.eng = eng
	if err := eng.Load(ctx, quiz); err != nil {
		return err
	}

	t.printf("\n%s\n", quiz.Title)
	if quiz.TimerEnabled && quiz.TimerSeconds != nil {
		t.println(appI18n.Td(ctx, "TimeLimit", map[string]any{"Seconds": *quiz.TimerSeconds}))
	}
	t.println(appI18n.T(ctx, "TakeHelp"))
	t.render()

	for {
		select {
		case <-eng.Done():
			return t.summary(c, eng.View())
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return errors.New("input closed before the quiz was submitted")
			}
			if quit := t.handle(line); quit {
				return nil
			}
		}
	}
}

// readLines feeds stdin lines to a channel so the main loop can also watch
// the session finishing on its own.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}

// terminal renders a session and interprets typed commands. Output is
// guarded because the timer goroutine reports through changed.
type terminal struct {
	out io.Writer
	ctx context.Context
	eng *session.Engine

	mu       sync.Mutex
	timeUp   bool
	lastLeft int
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) println(s string) { t.printf("%s\n", s) }

func (t *terminal) changed() {
	v := t.eng.View()
	t.mu.Lock()
	announce := v.Expired && !t.timeUp
	if announce {
		t.timeUp = true
	}
	remind := v.TimerEnabled && !v.Expired && v.Remaining != t.lastLeft &&
		(v.Remaining%60 == 0 || v.Remaining == 10)
	t.lastLeft = v.Remaining
	t.mu.Unlock()

	switch {
	case announce:
		t.println(appI18n.T(t.ctx, "TimeUp"))
		if v.Err != nil {
			// The forced submission failed; :submit retries it.
			t.printf("! %v\n", v.Err)
		}
	case remind:
		t.println(appI18n.Td(t.ctx, "Remaining", map[string]any{"Seconds": v.Remaining}))
	}
}

func (t *terminal) render() {
	v := t.eng.View()
	if v.State != session.InSet {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n", appI18n.Td(t.ctx, "SetHeader", map[string]any{"Index": v.SetIndex + 1, "Count": v.SetCount}))
	for i, p := range v.Problems {
		fmt.Fprintf(&b, "%d. %s", i+1, p.Sentence)
		if p.Hint != "" {
			fmt.Fprintf(&b, "  [%s]", p.Hint)
		}
		if a := v.Answers[p.ID]; a != "" {
			fmt.Fprintf(&b, "  = %s", a)
		}
		b.WriteByte('\n')
		if v.Revealed[p.ID] {
			fmt.Fprintf(&b, "   (%s)\n", p.Translation)
		}
	}
	fmt.Fprintf(&b, "%s: %s\n", appI18n.T(t.ctx, "WordBank"), strings.Join(v.WordBank, ", "))
	if v.TimerEnabled {
		fmt.Fprintf(&b, "%s\n", appI18n.Td(t.ctx, "Remaining", map[string]any{"Seconds": v.Remaining}))
	}
	t.printf("%s", b.String())
}

// problemAt maps a 1-based number in the current set to a problem.
func (t *terminal) problemAt(arg string) (model.StudentProblem, error) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	v := t.eng.View()
	if err != nil || n < 1 || n > len(v.Problems) {
		return model.StudentProblem{}, fmt.Errorf("no problem %q in this set", arg)
	}
	return v.Problems[n-1], nil
}

// handle runs one input line and reports whether the user quit.
func (t *terminal) handle(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	cmd, arg, _ := strings.Cut(line, " ")
	var err error
	switch cmd {
	case ":quit", ":q":
		return true
	case ":help":
		t.println(appI18n.T(t.ctx, "TakeHelp"))
		return false
	case ":next":
		err = t.eng.Next()
	case ":prev":
		err = t.eng.Prev()
	case ":hint":
		var p model.StudentProblem
		if p, err = t.problemAt(arg); err == nil {
			_, err = t.eng.ToggleTranslation(p.ID)
		}
	case ":play":
		var p model.StudentProblem
		if p, err = t.problemAt(arg); err == nil {
			err = t.eng.PlayAudio(p.ID)
		}
	case ":submit":
		// Completion is reported through Done.
		if _, err = t.eng.Submit(t.ctx); err == nil {
			return false
		}
	default:
		var p model.StudentProblem
		if p, err = t.problemAt(cmd); err == nil {
			err = t.eng.SetAnswer(p.ID, strings.TrimSpace(arg))
		}
	}
	if err != nil {
		t.printf("! %v\n", err)
	}
	t.render()
	return false
}

func (t *terminal) summary(c *client.Client, v session.View) error {
	if v.Outcome == nil {
		return nil
	}
	t.printf("\n%s\n", appI18n.Td(t.ctx, "ScoreLine", map[string]any{"Score": v.Outcome.Score, "Total": v.Outcome.Total}))
	res, err := c.Result(t.ctx, v.Outcome.ResultID)
	if err != nil {
		return err
	}
	for _, a := range res.Answers {
		mark := "x"
		if a.IsCorrect {
			mark = "o"
		}
		t.printf("  %s %s: %s -> %s\n", mark, a.Word, a.UserAnswer, a.CorrectAnswer)
	}
	return nil
}

// linkOutput "plays" a clip by printing its address, since a terminal has
// no audio device of its own.
type linkOutput struct {
	t    *terminal
	base string
}

func (o linkOutput) Play(_ context.Context, url string) error {
	if strings.HasPrefix(url, "/") {
		url = strings.TrimRight(o.base, "/") + url
	}
	o.t.printf("♪ %s\n", url)
	return nil
}
