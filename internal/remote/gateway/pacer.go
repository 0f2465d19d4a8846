package gateway

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// pacer spaces consecutive calls of one session by a uniformly drawn delay.
type pacer struct {
	mu     sync.Mutex
	lo, hi time.Duration
	last   time.Time
}

func newPacer() *pacer { return &pacer{} }

func (p *pacer) set(lo, hi time.Duration) {
	if lo < 0 {
		lo = 0
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	p.mu.Lock()
	p.lo, p.hi = lo, hi
	p.mu.Unlock()
}

// wait blocks until the drawn gap since the previous call has passed,
// then reserves the current slot.
func (p *pacer) wait(ctx context.Context) error {
	p.mu.Lock()
	gap := draw(p.lo, p.hi)
	var d time.Duration
	if !p.last.IsZero() {
		d = gap - time.Since(p.last)
	}
	if d < 0 {
		d = 0
	}
	p.last = time.Now().Add(d)
	p.mu.Unlock()

	if d == 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func draw(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}
