// Package health periodically probes every moving part of the service and
// maintains the alert lifecycle. Probes never let an error escape: a failing
// probe becomes a critical component status, never an aborted cycle.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"quotefeed/internal/bus"
	"quotefeed/internal/model"
	"quotefeed/internal/pipeline"
	"quotefeed/internal/provider"
	"quotefeed/internal/store"
)

// Pipeline is the slice of the pipeline the checker reads.
type Pipeline interface {
	State() pipeline.State
	Stats() pipeline.Stats
}

// Broadcaster is the slice of the distribution layer the checker reads.
type Broadcaster interface {
	SubscriberCount() int
}

type Config struct {
	Interval     time.Duration
	Cooldown     time.Duration
	HistorySize  int
	LatencyWarn  time.Duration
	SnapshotTTL  time.Duration
	AlertLogMax  int64
	ConnCeiling  int
	ProbeTimeout time.Duration
}

// Checker owns all health and alert state. Component statuses are produced
// fresh each cycle; the overall status is always recomputed from scratch.
type Checker struct {
	cfg       Config
	store     store.Store
	providers []provider.Provider
	pipe      Pipeline
	bcast     Broadcaster
	bus       *bus.Bus
	log       *slog.Logger
	started   time.Time

	mu      sync.Mutex
	active  map[string]model.Alert // keyed by (component, status)
	history []model.SystemHealth   // rolling, most recent last

	total     int64
	succeeded int64
	failed    int64
	respSumMs int64

	lastMu sync.RWMutex
	last   *model.SystemHealth

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, st store.Store, providers []provider.Provider, pipe Pipeline, bcast Broadcaster, b *bus.Bus, log *slog.Logger) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = 3 * cfg.Interval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		cfg:       cfg,
		store:     st,
		providers: providers,
		pipe:      pipe,
		bcast:     bcast,
		bus:       b,
		log:       log.With("component", "health"),
		started:   time.Now(),
		active:    make(map[string]model.Alert),
	}
}

// Start arms the check timer. The first cycle runs immediately.
func (c *Checker) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.CheckHealth(runCtx)
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				c.CheckHealth(runCtx)
			}
		}
	}()
}

// Stop cancels the timer and waits for an in-flight cycle.
func (c *Checker) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Last returns the most recently computed status, or nil before the first
// cycle completes.
func (c *Checker) Last() *model.SystemHealth {
	c.lastMu.RLock()
	defer c.lastMu.RUnlock()
	return c.last
}

// History returns a copy of the rolling status history, oldest first.
func (c *Checker) History() []model.SystemHealth {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.SystemHealth, len(c.history))
	copy(out, c.history)
	return out
}

// ActiveAlerts returns the current unresolved alerts.
func (c *Checker) ActiveAlerts() []model.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Alert, 0, len(c.active))
	for _, a := range c.active {
		out = append(out, a)
	}
	return out
}

// CheckHealth runs one full cycle: probe every component, recompute the
// overall status, persist the snapshot, update the alert lifecycle, and
// emit the updated event.
func (c *Checker) CheckHealth(ctx context.Context) model.SystemHealth {
	components := make([]model.ComponentHealth, 0, 3+len(c.providers))
	components = append(components, c.checkStore(ctx))
	for _, p := range c.providers {
		components = append(components, c.checkProvider(ctx, p))
	}
	components = append(components, c.checkPipeline())
	components = append(components, c.checkBroadcaster())

	c.mu.Lock()
	for _, comp := range components {
		c.total++
		if comp.Healthy {
			c.succeeded++
		} else {
			c.failed++
		}
		c.respSumMs += comp.ResponseTimeMs
	}
	stats := model.CheckStats{
		Total:     c.total,
		Succeeded: c.succeeded,
		Failed:    c.failed,
	}
	if c.total > 0 {
		stats.AvgResponseMs = float64(c.respSumMs) / float64(c.total)
	}
	c.mu.Unlock()

	status := model.SystemHealth{
		Status:        model.WorstStatus(components),
		Components:    components,
		UptimeSeconds: int64(time.Since(c.started).Seconds()),
		UpdatedAt:     time.Now().UTC(),
		Checks:        stats,
	}

	// short TTL: a dead checker must read as stale, not healthy
	sctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	if err := c.store.SetHealthSnapshot(sctx, status, c.cfg.SnapshotTTL); err != nil {
		c.log.Warn("health snapshot persist failed", "error", err)
	}
	cancel()

	c.mu.Lock()
	c.history = append(c.history, status)
	if len(c.history) > c.cfg.HistorySize {
		c.history = c.history[1:]
	}
	c.mu.Unlock()

	c.processAlerts(ctx, components)

	c.lastMu.Lock()
	c.last = &status
	c.lastMu.Unlock()

	c.bus.Publish(bus.Event{Kind: bus.KindHealthUpdated, Health: &status})
	return status
}

func (c *Checker) checkStore(ctx context.Context) model.ComponentHealth {
	comp := model.ComponentHealth{Name: "store", CheckedAt: time.Now().UTC()}
	pctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	if err := c.store.Ping(pctx); err != nil {
		comp.Status = model.StatusCritical
		comp.Error = err.Error()
		return comp
	}
	rtt, err := c.store.RoundTrip(pctx)
	comp.ResponseTimeMs = rtt.Milliseconds()
	if err != nil {
		comp.Status = model.StatusCritical
		comp.Error = err.Error()
		return comp
	}
	if c.cfg.LatencyWarn > 0 && rtt > c.cfg.LatencyWarn {
		comp.Status = model.StatusDegraded
		comp.Details = map[string]any{"round_trip_ms": rtt.Milliseconds()}
		return comp
	}
	comp.Healthy = true
	comp.Status = model.StatusHealthy
	return comp
}

func (c *Checker) checkProvider(ctx context.Context, p provider.Provider) model.ComponentHealth {
	comp := model.ComponentHealth{
		Name:      fmt.Sprintf("provider:%s", p.Name()),
		CheckedAt: time.Now().UTC(),
	}
	if !p.Connected() {
		comp.Status = model.StatusUnhealthy
		comp.Error = "disconnected"
		return comp
	}

	pctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	res := p.Probe(pctx)
	comp.ResponseTimeMs = res.Latency.Milliseconds()
	limit := p.RateLimit()
	comp.Details = map[string]any{
		"rate_remaining": limit.Remaining,
		"rate_reset":     limit.Reset.UTC().Format(time.RFC3339),
	}
	switch {
	case !res.Healthy:
		comp.Status = model.StatusCritical
		comp.Error = res.Err
	case c.cfg.LatencyWarn > 0 && res.Latency > c.cfg.LatencyWarn:
		comp.Status = model.StatusDegraded
	default:
		comp.Healthy = true
		comp.Status = model.StatusHealthy
	}
	return comp
}

func (c *Checker) checkPipeline() model.ComponentHealth {
	comp := model.ComponentHealth{Name: "pipeline", CheckedAt: time.Now().UTC()}
	if c.pipe == nil || c.pipe.State() == pipeline.StateStopped {
		comp.Status = model.StatusCritical
		comp.Error = "pipeline not running"
		return comp
	}
	stats := c.pipe.Stats()
	comp.Details = map[string]any{
		"state":      c.pipe.State().String(),
		"cycles":     stats.Cycles,
		"error_rate": stats.ErrorRate,
	}
	switch {
	case stats.ErrorRate > 0.10:
		comp.Status = model.StatusUnhealthy
		comp.Error = fmt.Sprintf("error rate %.1f%%", stats.ErrorRate*100)
	case stats.ErrorRate >= 0.05:
		comp.Status = model.StatusDegraded
	default:
		comp.Healthy = true
		comp.Status = model.StatusHealthy
	}
	return comp
}

func (c *Checker) checkBroadcaster() model.ComponentHealth {
	comp := model.ComponentHealth{Name: "broadcast", CheckedAt: time.Now().UTC()}
	count := 0
	if c.bcast != nil {
		count = c.bcast.SubscriberCount()
	}
	comp.Details = map[string]any{"subscribers": count}
	if c.cfg.ConnCeiling > 0 && count >= c.cfg.ConnCeiling*9/10 {
		comp.Status = model.StatusDegraded
		comp.Error = fmt.Sprintf("subscriber count %d near ceiling %d", count, c.cfg.ConnCeiling)
		return comp
	}
	comp.Healthy = true
	comp.Status = model.StatusHealthy
	return comp
}
