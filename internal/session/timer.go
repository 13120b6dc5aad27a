package session

import (
	"math/rand/v2"
	"time"
)

// startTimer runs the countdown on a single goroutine until it expires or
// the session is closed.
func (e *Engine) startTimer() {
	ticks := e.ticks
	var ticker *time.Ticker
	if ticks == nil {
		ticker = time.NewTicker(time.Second)
		ticks = ticker.C
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if ticker != nil {
			defer ticker.Stop()
		}
		for {
			select {
			case <-e.stop:
				return
			case <-ticks:
				e.Tick()
				if e.Remaining() == 0 {
					return
				}
			}
		}
	}()
}

func randomSeed() uint64 { return rand.Uint64() }
