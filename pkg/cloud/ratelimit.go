package cloud

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultCallInterval is the minimum spacing between calls to the same AWS
// service from one regional client. This is the sole rate limiter in the
// process; the region fan-out back-pressures on the scanner semaphore.
const DefaultCallInterval = 100 * time.Millisecond

// pacer enforces a per-service minimum inter-call interval.
type pacer struct {
	interval time.Duration
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newPacer(interval time.Duration) *pacer {
	if interval <= 0 {
		interval = DefaultCallInterval
	}
	return &pacer{
		interval: interval,
		limiters: make(map[string]*rate.Limiter),
	}
}

// wait blocks until the named service may be called again, or the context is
// cancelled.
func (p *pacer) wait(ctx context.Context, service string) error {
	p.mu.Lock()
	lim, ok := p.limiters[service]
	if !ok {
		lim = rate.NewLimiter(rate.Every(p.interval), 1)
		p.limiters[service] = lim
	}
	p.mu.Unlock()
	return lim.Wait(ctx)
}
