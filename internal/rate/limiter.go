// Package rate implements the shared rate-limit and retry policy used by the
// embedding and summarizer gateways: a minimum interval between outbound
// requests, and exponential backoff with jitter and Retry-After honoring.
// Concurrency bounds are not part of this package.
package rate

import (
	"context"
	"sync"
	"time"
)

// Limiter enforces a minimum interval between the start of consecutive
// outbound requests, grounded in the teacher's rag/embedder.rateLimitedCall
// mutex-guarded gate.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

// NewLimiter builds a Limiter from a requests-per-minute budget.
func NewLimiter(rpm int) *Limiter {
	if rpm <= 0 {
		return &Limiter{interval: 0}
	}
	return &Limiter{interval: time.Minute / time.Duration(rpm)}
}

// Wait blocks until the minimum interval since the previous call has
// elapsed, or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.interval == 0 {
		return ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	elapsed := time.Since(l.last)
	if wait := l.interval - elapsed; wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	l.last = time.Now()
	return nil
}
