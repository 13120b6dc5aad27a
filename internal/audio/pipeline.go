// Package audio narrates completed problem sentences and stores the clips.
//
// Every synthesis call goes through a serial.Queue, so problems are handled
// one at a time whatever the number of quizzes being processed.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/wordquiz/wordquiz/internal/generation"
	"github.com/wordquiz/wordquiz/internal/model"
	"github.com/wordquiz/wordquiz/internal/progress"
	"github.com/wordquiz/wordquiz/internal/serial"
	"github.com/wordquiz/wordquiz/internal/storage"
	"github.com/wordquiz/wordquiz/internal/store"
	"github.com/wordquiz/wordquiz/internal/tts"
)

var (
	// ErrInProgress is returned by Enqueue while a batch for the quiz is running.
	ErrInProgress = errors.New("audio synthesis already running for quiz")
	// ErrStale is returned when the problem was edited while its clip was
	// being synthesized. The clip is discarded.
	ErrStale = errors.New("problem edited during synthesis")
)

// ProgressFunc is called after each problem of a batch.
type ProgressFunc func(current, total int)

// Report summarizes one batch.
type Report struct {
	Total     int
	Succeeded int
	Skipped   int // edited while the batch ran
	Failed    []model.ProblemID
}

// Pipeline synthesizes, uploads and records problem audio.
type Pipeline struct {
	store   *store.Store
	synth   tts.Synthesizer
	blobs   storage.BlobStore
	queue   *serial.Queue
	tracker *progress.Tracker

	wg sync.WaitGroup
}

func New(st *store.Store, synth tts.Synthesizer, blobs storage.BlobStore, queue *serial.Queue) *Pipeline {
	return &Pipeline{
		store:   st,
		synth:   synth,
		blobs:   blobs,
		queue:   queue,
		tracker: progress.NewTracker(),
	}
}

// Tracker exposes the progress of background batches.
func (p *Pipeline) Tracker() *progress.Tracker { return p.tracker }

// Utterance is the text read aloud for a problem: the sentence with the
// blank filled in and its terminal punctuation collapsed.
func Utterance(pr model.Problem) string {
	return generation.Complete(pr.Sentence, pr.Answer)
}

// Key returns a fresh storage key for a problem's clip. The random suffix
// keeps a re-synthesized clip from being served from a stale cache.
func Key(quizID string, id model.ProblemID) string {
	return fmt.Sprintf("%s/%s_%s.mp3", quizID, id, uuid.NewString()[:8])
}

// Run processes problems in order. A failed problem is logged and skipped;
// its audio URL stays null so a later retry can pick it up. Run only returns
// an error when ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, quizID string, problems []model.Problem, progress ProgressFunc) (Report, error) {
	rep := Report{Total: len(problems)}
	for i, pr := range problems {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		_, err := p.SynthesizeOne(ctx, quizID, pr)
		switch {
		case err == nil:
			rep.Succeeded++
		case ctx.Err() != nil:
			return rep, ctx.Err()
		case errors.Is(err, ErrStale):
			slog.Debug("skipping edited problem", "quiz_id", quizID, "problem_id", pr.ID)
			rep.Skipped++
		default:
			slog.Warn("audio synthesis failed", "quiz_id", quizID, "problem_id", pr.ID, "error", err)
			rep.Failed = append(rep.Failed, pr.ID)
		}
		if progress != nil {
			progress(i+1, len(problems))
		}
	}
	slog.Info("audio batch finished", "quiz_id", quizID, "succeeded", rep.Succeeded, "failed", len(rep.Failed))
	return rep, nil
}

// SynthesizeOne narrates a single problem, uploads the clip and records its
// URL. The returned URL is the problem's current audio. If the stored
// sentence or answer no longer match pr when the clip is ready, nothing is
// recorded and ErrStale is returned.
func (p *Pipeline) SynthesizeOne(ctx context.Context, quizID string, pr model.Problem) (string, error) {
	text := Utterance(pr)
	var clip []byte
	err := p.queue.Do(ctx, func(ctx context.Context) error {
		var err error
		clip, err = p.synth.Synthesize(ctx, text)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("synthesize problem %s: %w", pr.ID, err)
	}
	key := Key(quizID, pr.ID)
	url, err := p.blobs.Put(ctx, key, bytes.NewReader(clip))
	if err != nil {
		return "", fmt.Errorf("upload audio for problem %s: %w", pr.ID, err)
	}
	if err := p.store.SetProblemAudioFor(ctx, quizID, pr, url); err != nil {
		if derr := p.blobs.Delete(key); derr != nil {
			slog.Warn("failed to delete unused clip", "key", key, "error", derr)
		}
		if errors.Is(err, store.ErrStaleContent) {
			return "", fmt.Errorf("problem %s: %w", pr.ID, ErrStale)
		}
		return "", fmt.Errorf("record audio for problem %s: %w", pr.ID, err)
	}
	slog.Debug("audio stored", "quiz_id", quizID, "problem_id", pr.ID, "url", url)
	return url, nil
}

// Enqueue starts a background batch over the problems of quizID that have no
// audio yet. Progress is visible through Tracker.
func (p *Pipeline) Enqueue(ctx context.Context, quizID string) error {
	quiz, err := p.store.GetQuiz(ctx, quizID)
	if err != nil {
		return err
	}
	var todo []model.Problem
	for _, pr := range quiz.Problems {
		if pr.AudioURL == nil {
			todo = append(todo, pr)
		}
	}
	if !p.tracker.Start(quizID, len(todo)) {
		return ErrInProgress
	}

	bg := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		rep, err := p.Run(bg, quizID, todo, func(cur, total int) {
			p.tracker.Advance(quizID, cur, total)
		})
		if err != nil {
			slog.Error("audio batch aborted", "quiz_id", quizID, "error", err)
		}
		p.tracker.Finish(quizID, len(rep.Failed))
	}()
	return nil
}

// Refresh re-synthesizes one problem in the background from its stored
// content. It is used after an edit, whether or not a batch is running.
func (p *Pipeline) Refresh(ctx context.Context, quizID string, id model.ProblemID) {
	bg := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		pr, err := p.store.GetProblem(bg, quizID, id)
		if err != nil {
			slog.Warn("audio refresh skipped", "quiz_id", quizID, "problem_id", id, "error", err)
			return
		}
		if _, err := p.SynthesizeOne(bg, quizID, *pr); err != nil {
			slog.Warn("audio refresh failed", "quiz_id", quizID, "problem_id", id, "error", err)
		}
	}()
}

// Wait blocks until every batch and refresh has finished.
func (p *Pipeline) Wait() { p.wg.Wait() }

// Forget drops the progress entry of a deleted quiz.
func (p *Pipeline) Forget(quizID string) { p.tracker.Forget(quizID) }
