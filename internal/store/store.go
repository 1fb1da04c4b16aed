// Package store is the narrow contract the pipeline and health checker use
// against the shared key/value + sorted-set cache. The two components write
// disjoint key namespaces, so no cross-component locking exists here.
package store

import (
	"context"
	"time"

	"quotefeed/internal/model"
)

// Store is everything the core needs from the external cache.
type Store interface {
	// SetLatest persists a real-time point with a short TTL; the next write
	// for the same symbol supersedes it.
	SetLatest(ctx context.Context, p model.MarketDataPoint, ttl time.Duration) error
	// Latest returns the freshest stored point for a symbol, or nil when
	// nothing is cached.
	Latest(ctx context.Context, symbol string) (*model.MarketDataPoint, error)

	// AppendBars appends daily bars to the per-symbol series and prunes
	// entries older than the retention window.
	AppendBars(ctx context.Context, symbol string, bars []model.HistoricalDataPoint, retention time.Duration) error
	// Bars returns bars with dates inside [from, to].
	Bars(ctx context.Context, symbol string, from, to time.Time) ([]model.HistoricalDataPoint, error)

	// Watermark reads a named timestamp; the zero time means never set.
	Watermark(ctx context.Context, name string) (time.Time, error)
	SetWatermark(ctx context.Context, name string, t time.Time) error

	// PushAlert appends to the bounded alert audit log.
	PushAlert(ctx context.Context, a model.Alert, max int64) error
	RecentAlerts(ctx context.Context, n int64) ([]model.Alert, error)

	// SetHealthSnapshot persists the latest system health with a short TTL
	// so a crashed checker shows up as a missing snapshot, not a stale
	// "healthy".
	SetHealthSnapshot(ctx context.Context, s model.SystemHealth, ttl time.Duration) error
	HealthSnapshot(ctx context.Context) (*model.SystemHealth, error)

	// Ping checks reachability; RoundTrip measures a write+read cycle.
	Ping(ctx context.Context) error
	RoundTrip(ctx context.Context) (time.Duration, error)
}
