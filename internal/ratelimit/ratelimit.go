// Package ratelimit tracks outbound request budgets per provider per rolling
// window. It only answers yes/no; callers that are denied decide themselves
// whether to skip, retry later, or fail over.
package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	budget int
	count  int
	start  time.Time
	span   time.Duration
}

// Manager owns the per-provider counters. An unknown provider always denies,
// which forces callers to register providers before use. The manager never
// blocks and never errors.
type Manager struct {
	mu      sync.Mutex
	windows map[string]*window

	now func() time.Time // overridable in tests
}

func NewManager() *Manager {
	return &Manager{windows: make(map[string]*window), now: time.Now}
}

// Register sets the budget for a provider and resets its window.
func (m *Manager) Register(id string, budget int, span time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[id] = &window{budget: budget, span: span, start: m.now()}
}

// Allow reports whether a request is currently permitted. It consumes
// nothing; pair with Record, or use Reserve for the atomic check-then-record.
func (m *Manager) Allow(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.roll(id)
	if w == nil {
		return false
	}
	return w.count < w.budget
}

// Record consumes one unit of budget. Recording past the budget is allowed
// (the caller already made the call); it just keeps Allow denying.
func (m *Manager) Record(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w := m.roll(id); w != nil {
		w.count++
	}
}

// Reserve atomically checks and consumes one unit. Concurrent fan-out must
// reserve at batch granularity so the check-then-act pair cannot exceed the
// budget.
func (m *Manager) Reserve(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.roll(id)
	if w == nil || w.count >= w.budget {
		return false
	}
	w.count++
	return true
}

// Info returns the remaining budget and the time the window resets.
// Unknown providers report zero remaining.
func (m *Manager) Info(id string) (remaining int, reset time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.roll(id)
	if w == nil {
		return 0, m.now()
	}
	remaining = w.budget - w.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, w.start.Add(w.span)
}

// roll resets the counter when the window has elapsed. Callers hold the lock.
func (m *Manager) roll(id string) *window {
	w := m.windows[id]
	if w == nil {
		return nil
	}
	if now := m.now(); now.Sub(w.start) >= w.span {
		w.count = 0
		w.start = now
	}
	return w
}
