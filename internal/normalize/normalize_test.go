package normalize

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"quotefeed/internal/model"
)

func TestPoint_CanonicalizesWithoutTouchingValues(t *testing.T) {
	price := decimal.RequireFromString("150.0700")
	in := model.MarketDataPoint{
		Symbol:    "  aapl ",
		Price:     price,
		Change:    decimal.RequireFromString("3.01"),
		ChangePct: decimal.RequireFromString("2.05"),
		Volume:    1234,
		Timestamp: 1756600000000,
		Source:    " alphavan ",
		Metadata:  map[string]string{"exchange": "NASDAQ", "empty": "  ", "": "x"},
	}

	out := Point(in)
	if out.Symbol != "AAPL" {
		t.Fatalf("symbol not canonicalized: %q", out.Symbol)
	}
	if out.Source != "alphavan" {
		t.Fatalf("source not trimmed: %q", out.Source)
	}
	// values must come through exactly, trailing zeros included
	if out.Price.String() != "150.07" || !out.Price.Equal(price) {
		t.Fatalf("price changed: %s", out.Price)
	}
	if out.Volume != 1234 || out.Timestamp != 1756600000000 {
		t.Fatalf("numeric fields changed: %+v", out)
	}
	if len(out.Metadata) != 1 || out.Metadata["exchange"] != "NASDAQ" {
		t.Fatalf("metadata not pruned: %v", out.Metadata)
	}
}

func TestPoint_DefaultsMissingTimestamp(t *testing.T) {
	before := time.Now().UTC().UnixMilli()
	out := Point(model.MarketDataPoint{Symbol: "msft", Price: decimal.New(1, 0)})
	after := time.Now().UTC().UnixMilli()

	if out.Timestamp < before || out.Timestamp > after {
		t.Fatalf("timestamp %d not defaulted to now", out.Timestamp)
	}
	if out.Metadata == nil {
		t.Fatal("metadata must be non-nil after normalization")
	}
}

func TestSymbol(t *testing.T) {
	cases := map[string]string{
		" aapl ":  "AAPL",
		"brk.b":   "BRK.B",
		"  ":      "",
		"GOOG":    "GOOG",
		"\ttsla ": "TSLA",
	}
	for in, want := range cases {
		if got := Symbol(in); got != want {
			t.Errorf("Symbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBar_TruncatesDateToUTCDay(t *testing.T) {
	in := model.HistoricalDataPoint{
		Symbol: "aapl",
		Date:   time.Date(2026, 8, 30, 21, 35, 12, 0, time.FixedZone("EST", -5*3600)),
		Open:   decimal.RequireFromString("148.00"),
		Close:  decimal.RequireFromString("150.07"),
		Source: "finbar",
	}

	out := Bar(in)
	want := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	if !out.Date.Equal(want) {
		t.Fatalf("date = %v, want %v", out.Date, want)
	}
	if out.Symbol != "AAPL" {
		t.Fatalf("symbol = %q", out.Symbol)
	}
	if !out.Close.Equal(in.Close) {
		t.Fatalf("close changed: %s", out.Close)
	}
}
