package validate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"quotefeed/internal/model"
)

func point() model.MarketDataPoint {
	return model.MarketDataPoint{
		Symbol:    "AAPL",
		Price:     decimal.RequireFromString("150.00"),
		Change:    decimal.RequireFromString("3.00"),
		ChangePct: decimal.RequireFromString("2.0"),
		Volume:    1_000_000,
		Timestamp: time.Now().UTC().UnixMilli(),
		Source:    "alphavan",
	}
}

func TestValidate_AcceptsPlausiblePoint(t *testing.T) {
	v := New(50, 10, time.Minute)
	res := v.Validate(point(), 900_000)
	require.True(t, res.OK)
	require.Empty(t, res.Errors)
}

func TestValidate_RejectsNonPositivePrice(t *testing.T) {
	v := New(50, 10, time.Minute)

	p := point()
	p.Price = decimal.Zero
	res := v.Validate(p, 0)
	require.False(t, res.OK)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0], "price must be positive")

	p.Price = decimal.RequireFromString("-1.50")
	res = v.Validate(p, 0)
	require.False(t, res.OK)
}

func TestValidate_RejectsExcessiveChange(t *testing.T) {
	v := New(50, 0, 0)

	p := point()
	p.ChangePct = decimal.RequireFromString("51.0")
	res := v.Validate(p, 0)
	require.False(t, res.OK)
	require.Contains(t, res.Errors[0], "percent change")

	// magnitude check applies to drops too
	p.ChangePct = decimal.RequireFromString("-51.0")
	res = v.Validate(p, 0)
	require.False(t, res.OK)

	// exactly at the ceiling passes
	p.ChangePct = decimal.RequireFromString("50.0")
	require.True(t, v.Validate(p, 0).OK)
}

func TestValidate_RejectsVolumeSpike(t *testing.T) {
	v := New(0, 10, 0)

	p := point()
	p.Volume = 11_000_000
	res := v.Validate(p, 1_000_000)
	require.False(t, res.OK)
	require.Contains(t, res.Errors[0], "volume")

	// without a reference volume the check is skipped
	require.True(t, v.Validate(p, 0).OK)
}

func TestValidate_RejectsStaleObservation(t *testing.T) {
	v := New(0, 0, time.Minute)
	v.now = func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }

	p := point()
	p.Timestamp = time.Date(2026, 8, 31, 11, 58, 0, 0, time.UTC).UnixMilli()
	res := v.Validate(p, 0)
	require.False(t, res.OK)
	require.Contains(t, res.Errors[0], "stale")

	p.Timestamp = time.Date(2026, 8, 31, 11, 59, 30, 0, time.UTC).UnixMilli()
	require.True(t, v.Validate(p, 0).OK)

	// a zero timestamp is "vendor gave us nothing", not stale
	p.Timestamp = 0
	require.True(t, v.Validate(p, 0).OK)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	v := New(50, 10, time.Minute)
	v.now = func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }

	p := point()
	p.Price = decimal.Zero
	p.ChangePct = decimal.RequireFromString("99.0")
	p.Volume = 50_000_000
	p.Timestamp = time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC).UnixMilli()

	res := v.Validate(p, 1_000_000)
	require.False(t, res.OK)
	require.Len(t, res.Errors, 4)
}
