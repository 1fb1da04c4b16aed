package provider

import (
	"context"
	"time"

	"quotefeed/internal/model"
)

// ProbeResult is the outcome of a provider self health-check.
type ProbeResult struct {
	Healthy bool
	Latency time.Duration
	Err     string
}

// LimitInfo reports the vendor-side pacing state a provider knows about
// itself, independent of the shared rate limit manager.
type LimitInfo struct {
	Remaining int
	Reset     time.Time
}

// Provider is the capability set every vendor adapter implements. The
// pipeline and health checker depend on nothing vendor-specific.
//
// RealTime returns (nil, nil) when the vendor has no data for the symbol;
// it returns an error only on transport-level failure (timeout, malformed
// response, vendor-reported throttle).
type Provider interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Connected() bool
	RealTime(ctx context.Context, symbol string) (*model.MarketDataPoint, error)
	Historical(ctx context.Context, symbol string, days int) ([]model.HistoricalDataPoint, error)
	Probe(ctx context.Context) ProbeResult
	RateLimit() LimitInfo
}
