package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"quotefeed/internal/bus"
	"quotefeed/internal/config"
	"quotefeed/internal/health"
	"quotefeed/internal/httpx"
	"quotefeed/internal/pipeline"
	"quotefeed/internal/provider"
	"quotefeed/internal/provider/alphavan"
	"quotefeed/internal/provider/finbar"
	"quotefeed/internal/ratelimit"
	"quotefeed/internal/store"
	"quotefeed/internal/validate"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		// configuration errors are fatal: never reach running state
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging.Level)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	st := store.NewRedis(rdb)

	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	limits := ratelimit.NewManager()
	providers, err := buildProviders(cfg, httpClient, limits)
	if err != nil {
		slog.Error("provider setup failed", "error", err)
		os.Exit(1)
	}

	validator := validate.New(cfg.Validation.MaxChangePct, cfg.Validation.MaxVolumeFactor, cfg.Validation.MaxAge)
	b := bus.New()

	pipe, err := pipeline.New(pipeline.Config{
		Symbols:            cfg.Symbols,
		RealtimeInterval:   cfg.Intervals.Realtime,
		HistoricalInterval: cfg.Intervals.Historical,
		FetchTimeout:       cfg.Validation.FetchTimeout,
		LatestTTL:          cfg.Storage.LatestTTL,
		Retention:          cfg.Retention(),
	}, providers, limits, st, validator, b, slog.Default())
	if err != nil {
		slog.Error("pipeline setup failed", "error", err)
		os.Exit(1)
	}

	checker := health.New(health.Config{
		Interval:    cfg.Health.Interval,
		Cooldown:    cfg.Health.Cooldown,
		HistorySize: cfg.Health.HistorySize,
		LatencyWarn: cfg.Health.LatencyWarn,
		SnapshotTTL: cfg.Health.SnapshotTTL,
		AlertLogMax: int64(cfg.Storage.AlertLogMax),
		ConnCeiling: cfg.Health.ConnCeiling,
	}, st, providers, pipe, b, b, slog.Default())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := pipe.Start(startCtx); err != nil {
		slog.Error("pipeline start failed", "error", err)
		os.Exit(1)
	}
	cancel()
	checker.Start(ctx)

	// log-level subscriber; real transports attach the same way
	events, unsubscribe := b.Subscribe(256)
	go logEvents(events)

	srv := newServer(st, pipe, checker)
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           withJSONHeaders(withGzip(recoverPanic(limitBody(srv.routes())))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server listening", "port", cfg.Server.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	checker.Stop()
	unsubscribe()
	if err := pipe.Stop(shutdownCtx); err != nil {
		slog.Warn("pipeline stop", "error", err)
	}
	_ = rdb.Close()
}

// buildProviders instantiates every enabled vendor adapter in failover order
// and registers its budget with the shared manager.
func buildProviders(cfg *config.Config, httpClient *httpx.Client, limits *ratelimit.Manager) ([]provider.Provider, error) {
	out := make([]provider.Provider, 0, 2)
	for _, name := range cfg.FailoverOrder() {
		switch name {
		case "alphavan":
			vc := cfg.Providers.AlphaVan
			p := alphavan.New(alphavan.Config{
				Endpoint:    vc.Endpoint,
				APIKey:      vc.APIKey,
				MinInterval: vc.MinInterval,
			}, httpClient)
			limits.Register(p.Name(), vc.RequestsPerWindow, vc.Window)
			out = append(out, p)
		case "finbar":
			vc := cfg.Providers.FinBar
			p, err := finbar.New(vc.APIKey,
				finbar.WithBaseURL(vc.Endpoint),
				finbar.WithHTTPClient(httpClient.HTTP),
				finbar.WithMinInterval(vc.MinInterval),
			)
			if err != nil {
				return nil, err
			}
			limits.Register(p.Name(), vc.RequestsPerWindow, vc.Window)
			out = append(out, p)
		}
	}
	return out, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func logEvents(events <-chan bus.Event) {
	for e := range events {
		switch e.Kind {
		case bus.KindDataReady:
			slog.Debug("event", "kind", e.Kind, "symbol", e.Point.Symbol, "price", e.Point.Price)
		case bus.KindAlertTriggered, bus.KindAlertResolved:
			slog.Debug("event", "kind", e.Kind, "component", e.Alert.Component)
		default:
			slog.Debug("event", "kind", e.Kind)
		}
	}
}
