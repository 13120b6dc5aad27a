package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wordquiz/wordquiz/internal/audio"
	"github.com/wordquiz/wordquiz/internal/authoring"
	appI18n "github.com/wordquiz/wordquiz/internal/i18n"
	"github.com/wordquiz/wordquiz/internal/serial"
	"github.com/wordquiz/wordquiz/internal/share"
	"github.com/wordquiz/wordquiz/internal/storage"
	"github.com/wordquiz/wordquiz/internal/wordlist"
)

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Create a quiz from a word file (txt, csv or xlsx)",
		RunE:  runGenerate,
	}
	f := cmd.Flags()
	f.StringP("words", "w", "", "Word file: one word per line, CSV first column, or first sheet column (required)")
	f.StringP("title", "t", "", "Quiz title (defaults to the file name)")
	f.StringP("difficulty", "d", "A2", "CEFR level (A1 to C2)")
	f.String("translation", "en", "Translation language")
	f.Int("words-per-set", 5, "Problems shown per set")
	f.Int("timer", 0, "Time limit in seconds (0 = no timer)")
	f.String("teacher", "admin", "Username that owns the quiz")
	f.Bool("share", false, "Also issue a share link")
	f.String("public-url", "http://localhost:8080", "Base URL printed in the share link")
	f.String("audio-dir", "audio", "Directory audio clips are stored in")
	f.String("audio-url", "/audio", "URL prefix audio clips are served under")
	addDBFlags(f)
	addLLMFlags(f)
	addTTSFlags(f)
	f.StringP("lang", "l", "en", "Message language (en, ko)")
	addLogFlags(f)
	_ = cmd.MarkFlagRequired("words")
	return cmd
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	out := cmd.OutOrStdout()

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	path := v.GetString("words")
	words, err := wordlist.ParseFile(path)
	if err != nil {
		return err
	}

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	teacher, err := db.GetUserByUsername(ctx, v.GetString("teacher"))
	if err != nil {
		return err
	}
	if teacher == nil {
		return fmt.Errorf("unknown teacher %q", v.GetString("teacher"))
	}

	gen, llmQueue, err := newGenerator(ctx, v)
	if err != nil {
		return err
	}
	defer llmQueue.Close()

	blobs, err := storage.NewFSStore(v.GetString("audio-dir"), strings.TrimRight(v.GetString("audio-url"), "/"))
	if err != nil {
		return fmt.Errorf("open audio store: %w", err)
	}

	title := v.GetString("title")
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	in := authoring.CreateQuizInput{
		Title:               title,
		Words:               words,
		Difficulty:          v.GetString("difficulty"),
		TranslationLanguage: v.GetString("translation"),
		WordsPerSet:         v.GetInt("words-per-set"),
	}
	if secs := v.GetInt("timer"); secs > 0 {
		in.TimerEnabled, in.TimerSeconds = true, &secs
	}

	// Audio runs synchronously below, so authoring gets no scheduler.
	svc := authoring.New(db, gen, nil, blobs)
	quiz, fulfilled, err := svc.CreateQuiz(ctx, teacher.ID, in, func(current, total int) {
		fmt.Fprintf(out, "\rgenerating %d/%d words", current, total)
	})
	fmt.Fprintln(out)
	if err != nil {
		return fmt.Errorf("create quiz: %w", err)
	}
	fmt.Fprintf(out, "quiz %s: %d problems\n", quiz.ID, len(quiz.Problems))
	if fulfilled.Partial() {
		fmt.Fprintln(out, appI18n.Td(ctx, "PartialGeneration", map[string]any{
			"Fulfilled": fulfilled.Fulfilled,
			"Requested": fulfilled.Requested,
		}))
	}

	synth, err := newSynthesizer(v)
	if err != nil {
		return fmt.Errorf("create synthesizer: %w", err)
	}
	if synth != nil {
		ttsQueue := serial.New("tts", 1)
		defer ttsQueue.Close()
		p := audio.New(db, synth, blobs, ttsQueue)
		report, err := p.Run(ctx, quiz.ID, quiz.Problems, func(current, total int) {
			fmt.Fprintf(out, "\rsynthesizing %d/%d", current, total)
		})
		fmt.Fprintln(out)
		if err != nil {
			return fmt.Errorf("synthesize audio: %w", err)
		}
		if len(report.Failed) > 0 {
			slog.Warn("some clips failed, the server sweeper will retry them", "failed", len(report.Failed))
		}
		fmt.Fprintf(out, "audio: %d/%d clips\n", report.Succeeded, report.Total)
	}

	if v.GetBool("share") {
		g, err := share.New(db).Issue(ctx, quiz.ID, true, 0)
		if err != nil {
			return fmt.Errorf("issue share link: %w", err)
		}
		fmt.Fprintf(out, "share: %s/s/%s\n", strings.TrimRight(v.GetString("public-url"), "/"), g.Token)
	}
	return nil
}
