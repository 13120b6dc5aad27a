package session

import (
	"context"
	"sync"
)

// AudioOutput plays one clip and returns when it ends or ctx is cancelled.
type AudioOutput interface {
	Play(ctx context.Context, url string) error
}

// Player plays at most one clip at a time. Starting a clip stops the one
// that is playing.
type Player struct {
	out AudioOutput

	mu      sync.Mutex
	cancel  context.CancelFunc
	current string
	gen     uint64
	wg      sync.WaitGroup
}

func NewPlayer(out AudioOutput) *Player {
	return &Player{out: out}
}

// Play stops the active clip and starts url in the background.
func (p *Player) Play(url string) {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.current = url
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = p.out.Play(ctx, url)
		p.mu.Lock()
		if p.gen == gen {
			p.current = ""
			p.cancel = nil
		}
		p.mu.Unlock()
		cancel()
	}()
}

// Playing returns the URL of the active clip, or "".
func (p *Player) Playing() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Stop halts the active clip and waits for its goroutine to exit.
func (p *Player) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.current = ""
	p.gen++
	p.mu.Unlock()
	p.wg.Wait()
}
