// Package pipeline schedules market data collection across providers, drives
// the validate -> normalize -> persist -> emit chain, and fails over to
// fallback providers when the active one becomes unusable.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"quotefeed/internal/bus"
	"quotefeed/internal/normalize"
	"quotefeed/internal/provider"
	"quotefeed/internal/ratelimit"
	"quotefeed/internal/store"
	"quotefeed/internal/validate"
)

// State is the pipeline lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return "unknown"
}

const historicalWatermark = "historical"

type Config struct {
	Symbols            []string
	RealtimeInterval   time.Duration
	HistoricalInterval time.Duration
	HistoricalDays     int
	FetchTimeout       time.Duration
	LatestTTL          time.Duration
	Retention          time.Duration
	MaxConcurrency     int
}

// Stats is a snapshot of the pipeline counters. ErrorRate is the fraction of
// provider calls that failed, in [0, 1].
type Stats struct {
	Cycles      uint64  `json:"cycles"`
	Fetched     uint64  `json:"fetched"`
	FetchErrors uint64  `json:"fetch_errors"`
	Rejected    uint64  `json:"rejected"`
	Persisted   uint64  `json:"persisted"`
	StoreErrors uint64  `json:"store_errors"`
	ErrorRate   float64 `json:"error_rate"`
}

// Pipeline orchestrates the two collection timers. Providers are held in
// failover order; the first entry is the initially active one.
type Pipeline struct {
	cfg       Config
	order     []string
	byName    map[string]provider.Provider
	limits    *ratelimit.Manager
	store     store.Store
	validator validate.Validator
	bus       *bus.Bus
	log       *slog.Logger

	state    atomic.Int32
	failover atomic.Bool // guards re-entrant failover attempts
	rtBusy   atomic.Bool
	histBusy atomic.Bool

	primaryMu sync.RWMutex
	primary   string

	volMu      sync.Mutex
	lastVolume map[string]int64

	cycles      atomic.Uint64
	fetched     atomic.Uint64
	fetchErrors atomic.Uint64
	rejected    atomic.Uint64
	persisted   atomic.Uint64
	storeErrors atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a pipeline over providers listed in failover order.
func New(cfg Config, providers []provider.Provider, limits *ratelimit.Manager, st store.Store, v validate.Validator, b *bus.Bus, log *slog.Logger) (*Pipeline, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("pipeline: at least one provider is required")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("pipeline: at least one symbol is required")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 8 * time.Second
	}
	if cfg.HistoricalDays <= 0 {
		cfg.HistoricalDays = 30
	}
	byName := make(map[string]provider.Provider, len(providers))
	order := make([]string, 0, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
		order = append(order, p.Name())
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		cfg:        cfg,
		order:      order,
		byName:     byName,
		limits:     limits,
		store:      st,
		validator:  v,
		bus:        b,
		log:        log.With("component", "pipeline"),
		primary:    order[0],
		lastVolume: make(map[string]int64, len(cfg.Symbols)),
	}, nil
}

// Start connects every provider and arms the collection timers. Provider
// connect failures are not fatal; the failover path deals with them.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("pipeline: already started")
	}
	for _, name := range p.order {
		if err := p.byName[name].Connect(ctx); err != nil {
			p.log.Warn("provider connect failed", "provider", name, "error", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(2)
	go p.runRealtime(runCtx)
	go p.runHistorical(runCtx)

	p.state.Store(int32(StateRunning))
	p.log.Info("pipeline running",
		"primary", p.Primary(),
		"symbols", len(p.cfg.Symbols),
		"realtime_interval", p.cfg.RealtimeInterval,
		"historical_interval", p.cfg.HistoricalInterval)
	return nil
}

// Stop cancels both timers, waits for in-flight work, and disconnects every
// provider before returning.
func (p *Pipeline) Stop(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return fmt.Errorf("pipeline: not running")
	}
	p.cancel()
	p.wg.Wait()
	for _, name := range p.order {
		if err := p.byName[name].Disconnect(ctx); err != nil {
			p.log.Warn("provider disconnect failed", "provider", name, "error", err)
		}
	}
	p.state.Store(int32(StateStopped))
	p.log.Info("pipeline stopped")
	return nil
}

// State returns the lifecycle state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// Primary returns the name of the active provider.
func (p *Pipeline) Primary() string {
	p.primaryMu.RLock()
	defer p.primaryMu.RUnlock()
	return p.primary
}

func (p *Pipeline) setPrimary(name string) {
	p.primaryMu.Lock()
	p.primary = name
	p.primaryMu.Unlock()
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	fetched := p.fetched.Load()
	errs := p.fetchErrors.Load()
	var rate float64
	if attempts := fetched + errs; attempts > 0 {
		rate = float64(errs) / float64(attempts)
	}
	return Stats{
		Cycles:      p.cycles.Load(),
		Fetched:     fetched,
		FetchErrors: errs,
		Rejected:    p.rejected.Load(),
		Persisted:   p.persisted.Load(),
		StoreErrors: p.storeErrors.Load(),
		ErrorRate:   rate,
	}
}

func (p *Pipeline) runRealtime(ctx context.Context) {
	defer p.wg.Done()
	// collect once right away so data is available before the first tick
	p.CollectRealtime(ctx)
	ticker := time.NewTicker(p.cfg.RealtimeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CollectRealtime(ctx)
		}
	}
}

func (p *Pipeline) runHistorical(ctx context.Context) {
	defer p.wg.Done()
	p.CollectHistorical(ctx)
	ticker := time.NewTicker(p.cfg.HistoricalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CollectHistorical(ctx)
		}
	}
}

// CollectRealtime runs one real-time cycle: reserve budget for the batch,
// fan out per-symbol fetches against the active provider, and push each
// successful observation through validation, normalization, persistence and
// the ready event. A cycle still in flight when the timer fires again is
// skipped rather than overlapped.
func (p *Pipeline) CollectRealtime(ctx context.Context) {
	if !p.rtBusy.CompareAndSwap(false, true) {
		p.log.Debug("realtime cycle still in flight, skipping")
		return
	}
	defer p.rtBusy.Store(false)

	p.cycles.Add(1)
	prim := p.activeProvider()
	if !prim.Connected() {
		p.log.Warn("primary disconnected at cycle start", "provider", prim.Name())
		p.tryFailover(ctx)
		return
	}
	// one reservation covers the whole batch
	if !p.limits.Reserve(prim.Name()) {
		p.log.Debug("rate budget exhausted, skipping realtime cycle", "provider", prim.Name())
		return
	}

	var failed atomic.Uint64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrency)
	for _, symbol := range p.cfg.Symbols {
		g.Go(func() error {
			if !p.collectSymbol(gctx, prim, symbol) {
				failed.Add(1)
			}
			return nil // a per-symbol failure never aborts siblings
		})
	}
	_ = g.Wait()

	// every symbol failing is the signal the provider itself is unusable
	if n := failed.Load(); n > 0 && n == uint64(len(p.cfg.Symbols)) {
		p.tryFailover(ctx)
	}
}

// collectSymbol fetches one symbol and walks it through the chain. Returns
// false only on a provider error; validation rejects and absent data are
// expected outcomes.
func (p *Pipeline) collectSymbol(ctx context.Context, prov provider.Provider, symbol string) bool {
	fctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	point, err := prov.RealTime(fctx, symbol)
	if err != nil {
		p.fetchErrors.Add(1)
		p.log.Warn("realtime fetch failed", "provider", prov.Name(), "symbol", symbol, "error", err)
		p.bus.Publish(bus.Event{Kind: bus.KindProviderError, Provider: prov.Name(), Err: err.Error()})
		return false
	}
	p.fetched.Add(1)
	if point == nil {
		p.log.Debug("no data for symbol", "provider", prov.Name(), "symbol", symbol)
		return true
	}
	p.bus.Publish(bus.Event{Kind: bus.KindCollected, Point: point, Provider: prov.Name()})

	res := p.validator.Validate(*point, p.refVolume(point.Symbol))
	if !res.OK {
		p.rejected.Add(1)
		p.log.Info("observation rejected", "symbol", symbol, "errors", res.Errors)
		return true
	}
	p.bus.Publish(bus.Event{Kind: bus.KindValidated, Point: point, Provider: prov.Name()})

	np := normalize.Point(*point)
	p.bus.Publish(bus.Event{Kind: bus.KindNormalized, Point: &np, Provider: prov.Name()})
	p.setRefVolume(np.Symbol, np.Volume)

	if err := p.store.SetLatest(fctx, np, p.cfg.LatestTTL); err != nil {
		// store outage blocks durability, not distribution; health surfaces it
		p.storeErrors.Add(1)
		p.log.Error("persist failed", "symbol", np.Symbol, "error", err)
	} else {
		p.persisted.Add(1)
	}
	p.bus.Publish(bus.Event{Kind: bus.KindDataReady, Point: &np, Provider: prov.Name()})
	return true
}

// CollectHistorical runs one historical cycle. It is throttled against the
// persisted watermark regardless of timer granularity, iterates symbols
// sequentially to respect the tighter historical quota, and breaks out early
// when the budget runs dry.
func (p *Pipeline) CollectHistorical(ctx context.Context) {
	if !p.histBusy.CompareAndSwap(false, true) {
		return
	}
	defer p.histBusy.Store(false)

	prim := p.activeProvider()
	if !prim.Connected() {
		return
	}

	mark, err := p.store.Watermark(ctx, historicalWatermark)
	if err != nil {
		p.storeErrors.Add(1)
		p.log.Warn("historical watermark unavailable, skipping cycle", "error", err)
		return
	}
	if !mark.IsZero() && time.Since(mark) < p.cfg.HistoricalInterval {
		return
	}

	succeeded := false
	for _, symbol := range p.cfg.Symbols {
		if ctx.Err() != nil {
			return
		}
		if !p.limits.Reserve(prim.Name()) {
			p.log.Info("rate budget exhausted, halting historical cycle", "provider", prim.Name(), "symbol", symbol)
			break
		}
		fctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
		bars, err := prim.Historical(fctx, symbol, p.cfg.HistoricalDays)
		cancel()
		if err != nil {
			p.fetchErrors.Add(1)
			p.log.Warn("historical fetch failed", "provider", prim.Name(), "symbol", symbol, "error", err)
			p.bus.Publish(bus.Event{Kind: bus.KindProviderError, Provider: prim.Name(), Err: err.Error()})
			continue
		}
		p.fetched.Add(1)
		if len(bars) == 0 {
			continue
		}
		for i := range bars {
			bars[i] = normalize.Bar(bars[i])
		}
		if err := p.store.AppendBars(ctx, normalize.Symbol(symbol), bars, p.cfg.Retention); err != nil {
			p.storeErrors.Add(1)
			p.log.Error("historical persist failed", "symbol", symbol, "error", err)
			continue
		}
		succeeded = true
		p.bus.Publish(bus.Event{Kind: bus.KindHistorical, Bars: bars, Provider: prim.Name()})
	}

	if succeeded {
		if err := p.store.SetWatermark(ctx, historicalWatermark, time.Now().UTC()); err != nil {
			p.storeErrors.Add(1)
			p.log.Warn("watermark update failed", "error", err)
		}
	}
}

// tryFailover probes the configured candidates in order and promotes the
// first working one. Exhausting every candidate leaves the primary unchanged;
// the condition surfaces through the health checker, not an error.
func (p *Pipeline) tryFailover(ctx context.Context) {
	if !p.failover.CompareAndSwap(false, true) {
		return
	}
	defer p.failover.Store(false)

	current := p.Primary()
	for _, name := range p.order {
		if name == current {
			continue
		}
		cand := p.byName[name]
		if !cand.Connected() {
			if err := cand.Connect(ctx); err != nil {
				p.log.Warn("failover candidate connect failed", "provider", name, "error", err)
				continue
			}
		}
		fctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
		_, err := cand.RealTime(fctx, p.cfg.Symbols[0])
		cancel()
		p.limits.Record(name) // the trial fetch spends real budget
		if err != nil {
			p.log.Warn("failover candidate probe failed", "provider", name, "error", err)
			continue
		}
		p.setPrimary(name)
		p.log.Warn("failed over to fallback provider", "from", current, "to", name)
		return
	}
	p.log.Error("failover exhausted all candidates, primary unchanged", "primary", current)
}

func (p *Pipeline) activeProvider() provider.Provider {
	return p.byName[p.Primary()]
}

func (p *Pipeline) refVolume(symbol string) int64 {
	p.volMu.Lock()
	defer p.volMu.Unlock()
	return p.lastVolume[normalize.Symbol(symbol)]
}

func (p *Pipeline) setRefVolume(symbol string, v int64) {
	if v <= 0 {
		return
	}
	p.volMu.Lock()
	p.lastVolume[symbol] = v
	p.volMu.Unlock()
}

// Providers lists the configured providers in failover order along with
// their live connection and budget state, for the metrics surface.
func (p *Pipeline) Providers() []ProviderState {
	out := make([]ProviderState, 0, len(p.order))
	for _, name := range p.order {
		prov := p.byName[name]
		remaining, reset := p.limits.Info(name)
		out = append(out, ProviderState{
			Name:      name,
			Active:    name == p.Primary(),
			Connected: prov.Connected(),
			Remaining: remaining,
			ResetAt:   reset,
		})
	}
	return out
}

// ProviderState is one provider's entry on the metrics surface.
type ProviderState struct {
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	Connected bool      `json:"connected"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}
