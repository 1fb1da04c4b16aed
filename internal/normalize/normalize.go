// Package normalize unifies vendor observations into the canonical shape.
// It changes format only; numeric values pass through untouched.
package normalize

import (
	"strings"
	"time"

	"quotefeed/internal/model"
)

// Point canonicalizes a validated observation: upper-cased trimmed symbol,
// trimmed source, a timestamp when the vendor supplied none, and a non-nil
// metadata map with empty entries dropped.
func Point(p model.MarketDataPoint) model.MarketDataPoint {
	p.Symbol = Symbol(p.Symbol)
	p.Source = strings.TrimSpace(p.Source)
	if p.Timestamp == 0 {
		p.Timestamp = time.Now().UTC().UnixMilli()
	}
	meta := make(map[string]string, len(p.Metadata))
	for k, v := range p.Metadata {
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k != "" && v != "" {
			meta[k] = v
		}
	}
	p.Metadata = meta
	return p
}

// Symbol returns the canonical form of a ticker symbol.
func Symbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Bar canonicalizes a historical bar: canonical symbol, date truncated to
// day granularity in UTC.
func Bar(b model.HistoricalDataPoint) model.HistoricalDataPoint {
	b.Symbol = Symbol(b.Symbol)
	b.Source = strings.TrimSpace(b.Source)
	b.Date = b.Date.UTC().Truncate(24 * time.Hour)
	return b
}
