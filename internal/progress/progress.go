// Package progress tracks long-running jobs so HTTP callers can poll them.
package progress

import (
	"sync"

	"github.com/wordquiz/wordquiz/internal/model"
)

// Tracker keeps the latest progress of each job by key.
type Tracker struct {
	mu    sync.Mutex
	state map[string]model.Progress
}

func NewTracker() *Tracker {
	return &Tracker{state: make(map[string]model.Progress)}
}

// Get returns the progress of key and whether a job was ever started.
func (t *Tracker) Get(key string) (model.Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.state[key]
	return p, ok
}

// Forget drops the entry of key.
func (t *Tracker) Forget(key string) {
	t.mu.Lock()
	delete(t.state, key)
	t.mu.Unlock()
}

// Start marks key as running. It returns false when a job for key is
// already running.
func (t *Tracker) Start(key string, total int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state[key].Running {
		return false
	}
	t.state[key] = model.Progress{Total: total, Running: true}
	return true
}

// Advance records current out of total. A total of 0 keeps the known total.
func (t *Tracker) Advance(key string, current, total int) {
	t.mu.Lock()
	p := t.state[key]
	p.Current = current
	if total > 0 {
		p.Total = total
	}
	t.state[key] = p
	t.mu.Unlock()
}

// Finish marks key as done with the given number of failed items.
func (t *Tracker) Finish(key string, failed int) {
	t.mu.Lock()
	p := t.state[key]
	p.Running = false
	p.Failed = failed
	t.state[key] = p
	t.mu.Unlock()
}
