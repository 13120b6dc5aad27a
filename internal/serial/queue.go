// Package serial runs work on a single goroutine.
//
// External services used by the generation and audio pipelines enforce
// request-rate ceilings. Routing every call through a Queue guarantees at
// most one call is in flight per queue, no matter how many callers there are.
package serial

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed is returned when work is submitted to a closed queue.
var ErrClosed = errors.New("serial: queue closed")

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error // nil for fire-and-forget jobs
}

// Queue is a worker-of-one: jobs run one at a time in submission order.
type Queue struct {
	name string
	jobs chan job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New starts a queue with room for backlog pending jobs.
func New(name string, backlog int) *Queue {
	if backlog < 1 {
		backlog = 1
	}
	q := &Queue{name: name, jobs: make(chan job, backlog)}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer q.wg.Done()
	for j := range q.jobs {
		err := q.exec(j)
		if j.done != nil {
			j.done <- err
			continue
		}
		if err != nil {
			slog.Warn("background job failed", "queue", q.name, "error", err)
		}
	}
}

func (q *Queue) exec(j job) (err error) {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job panicked", "queue", q.name, "panic", r)
			err = errors.New("serial: job panicked")
		}
	}()
	return j.fn(j.ctx)
}

// Do runs fn on the worker and waits for it to finish. If ctx is cancelled
// first, Do returns ctx.Err() and a job that has not started yet is skipped.
func (q *Queue) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	if err := q.enqueue(ctx, job{ctx: ctx, fn: fn, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go enqueues fn to run in the background with its own context.
func (q *Queue) Go(ctx context.Context, fn func(ctx context.Context) error) error {
	return q.enqueue(ctx, job{ctx: context.WithoutCancel(ctx), fn: fn})
}

func (q *Queue) enqueue(ctx context.Context, j job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work and waits for queued jobs to drain.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	q.wg.Wait()
}
