package provider

import (
	"context"
	"sync"
	"time"
)

// Pacer enforces a minimum time between calls to one vendor. Concurrent
// callers wait until the interval has elapsed since the last call, or return
// early when the context is canceled. Vendors often have pacing rules
// stricter than the shared per-window budget, so adapters carry their own.
type Pacer struct {
	Interval time.Duration

	mu   sync.Mutex
	last time.Time
}

// Wait blocks until a call is permitted and claims the slot. Waking from the
// sleep is not a claim: another waiter may have taken the slot in the
// meantime, so the wait is recomputed until the claim succeeds under the lock.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.Interval <= 0 {
		return nil
	}
	for {
		p.mu.Lock()
		wait := time.Until(p.last.Add(p.Interval))
		if wait <= 0 {
			p.last = time.Now()
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Info reports pacing state in LimitInfo terms: one request remaining once
// the interval has elapsed, zero until then.
func (p *Pacer) Info() LimitInfo {
	if p.Interval <= 0 {
		return LimitInfo{Remaining: 1, Reset: time.Now()}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	reset := p.last.Add(p.Interval)
	if time.Now().After(reset) {
		return LimitInfo{Remaining: 1, Reset: time.Now()}
	}
	return LimitInfo{Remaining: 0, Reset: reset}
}
