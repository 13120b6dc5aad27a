package audio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/wordquiz/wordquiz/internal/store"
)

const lastSweepKey = "audio_sweep_last_run"

// Sweeper periodically retries synthesis for problems left without audio.
type Sweeper struct {
	scheduler *gocron.Scheduler
	pipeline  *Pipeline
	store     *store.Store
	batch     int
}

// NewSweeper schedules a sweep every interval, handling at most batch
// problems per run.
func NewSweeper(p *Pipeline, st *store.Store, interval time.Duration, batch int) (*Sweeper, error) {
	if batch < 1 {
		batch = 20
	}
	s := &Sweeper{
		scheduler: gocron.NewScheduler(time.UTC),
		pipeline:  p,
		store:     st,
		batch:     batch,
	}
	_, err := s.scheduler.Every(interval).SingletonMode().Do(func() {
		n, err := s.Sweep(context.Background())
		if err != nil {
			slog.Error("audio sweep failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("audio sweep finished", "repaired", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule audio sweep: %w", err)
	}
	return s, nil
}

// Start runs the schedule in the background.
func (s *Sweeper) Start() { s.scheduler.StartAsync() }

// Stop terminates the schedule.
func (s *Sweeper) Stop() { s.scheduler.Stop() }

// Sweep runs one pass and returns the number of problems that got audio.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	missing, err := s.store.ListMissingAudio(ctx, s.batch)
	if err != nil {
		return 0, fmt.Errorf("list missing audio: %w", err)
	}
	repaired := 0
	for _, m := range missing {
		if p, ok := s.pipeline.tracker.Get(m.QuizID); ok && p.Running {
			continue
		}
		if _, err := s.pipeline.SynthesizeOne(ctx, m.QuizID, m.Problem); err != nil {
			slog.Warn("audio retry failed", "quiz_id", m.QuizID, "problem_id", m.Problem.ID, "error", err)
			continue
		}
		repaired++
	}
	if err := s.store.SetTime(ctx, lastSweepKey, time.Now()); err != nil {
		slog.Warn("record audio sweep time", "error", err)
	}
	return repaired, nil
}
