// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token bucket bounding sustained request rate. Capacity
// equals the configured requests per second; tokens refill continuously
// at that rate. A single mutex guards the counter so concurrent callers
// share one budget rather than keeping per-caller state.
type Limiter struct {
	mu     sync.Mutex
	rate   float64
	tokens float64
	last   time.Time

	// now and sleep are swappable for deterministic tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter returns a full bucket refilling at rps tokens per second.
// Rates below 0.1 are clamped to 0.1.
func NewLimiter(rps float64) *Limiter {
	if rps < 0.1 {
		rps = 0.1
	}
	return &Limiter{
		rate:   rps,
		tokens: rps,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Acquire blocks until a token is available, then debits one. It returns
// early with the context error if ctx is cancelled while waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		now := l.now()
		if l.last.IsZero() {
			l.last = now
		}
		l.tokens += now.Sub(l.last).Seconds() * l.rate
		if l.tokens > l.rate {
			l.tokens = l.rate
		}
		l.last = now

		if l.tokens >= 1.0 {
			l.tokens -= 1.0
			return nil
		}

		wait := time.Duration((1.0 - l.tokens) / l.rate * float64(time.Second))
		// Holding the mutex while sleeping is what serializes concurrent
		// callers against the shared budget.
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Registry holds named limiters, one per external resource. It is
// constructed by the caller and injected into the Client, so tests can
// substitute limiters with deterministic clocks.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
}

// NewRegistry returns a registry pre-populated from rates, a map of
// resource name to requests per second.
func NewRegistry(rates map[string]float64) *Registry {
	r := &Registry{limiters: make(map[string]*Limiter, len(rates))}
	for name, rps := range rates {
		r.limiters[name] = NewLimiter(rps)
	}
	return r
}

// Get returns the limiter registered under name, or nil when the
// resource is not rate limited.
func (r *Registry) Get(name string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limiters[name]
}
