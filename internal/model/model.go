package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the health state of a single component or the whole system.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusCritical  Status = "critical"
)

// rank orders statuses from best to worst.
func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	case StatusCritical:
		return 3
	}
	return 3
}

// Worse reports whether s is worse than other.
func (s Status) Worse(other Status) bool { return s.rank() > other.rank() }

// WorstStatus returns the worst status among the given component reports.
// An empty list is healthy.
func WorstStatus(components []ComponentHealth) Status {
	worst := StatusHealthy
	for _, c := range components {
		if c.Status.Worse(worst) {
			worst = c.Status
		}
	}
	return worst
}

// Severity classifies an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// SeverityFor maps a component status to the alert severity raised for it.
func SeverityFor(s Status) Severity {
	switch s {
	case StatusCritical:
		return SeverityCritical
	case StatusUnhealthy:
		return SeverityError
	default:
		return SeverityWarning
	}
}

// MarketDataPoint is one normalized real-time observation. Prices are
// decimals to keep vendor values exact across persistence and broadcast.
type MarketDataPoint struct {
	Symbol    string            `json:"symbol"`
	Price     decimal.Decimal   `json:"price"`
	Change    decimal.Decimal   `json:"change"`
	ChangePct decimal.Decimal   `json:"change_pct"`
	Volume    int64             `json:"volume"`
	Timestamp int64             `json:"timestamp"` // epoch millis
	Source    string            `json:"source"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Time returns the observation time.
func (p MarketDataPoint) Time() time.Time { return time.UnixMilli(p.Timestamp).UTC() }

// HistoricalDataPoint is one immutable daily bar.
type HistoricalDataPoint struct {
	Symbol string          `json:"symbol"`
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
	Source string          `json:"source"`
}

// ComponentHealth is one probe result. Produced fresh every check cycle and
// never mutated afterwards.
type ComponentHealth struct {
	Name           string         `json:"name"`
	Healthy        bool           `json:"healthy"`
	Status         Status         `json:"status"`
	CheckedAt      time.Time      `json:"checked_at"`
	ResponseTimeMs int64          `json:"response_time_ms,omitempty"`
	Error          string         `json:"error,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

// CheckStats are aggregate counters across all probes since startup.
type CheckStats struct {
	Total         int64   `json:"total"`
	Succeeded     int64   `json:"succeeded"`
	Failed        int64   `json:"failed"`
	AvgResponseMs float64 `json:"avg_response_ms"`
}

// SystemHealth is the overall picture for one check cycle.
type SystemHealth struct {
	Status        Status            `json:"status"`
	Components    []ComponentHealth `json:"components"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Checks        CheckStats        `json:"checks"`
}

// Alert is one entry in the alert lifecycle. Its identity for cooldown and
// resolution purposes is (Component, Status); ID only distinguishes records
// in the audit log.
type Alert struct {
	ID         string     `json:"id"`
	Component  string     `json:"component"`
	Status     Status     `json:"status"`
	Severity   Severity   `json:"severity"`
	Message    string     `json:"message"`
	CreatedAt  time.Time  `json:"created_at"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Key returns the identity an alert is deduplicated and resolved under.
func (a Alert) Key() string { return AlertKey(a.Component, a.Status) }

// AlertKey builds the (component, status) identity string.
func AlertKey(component string, status Status) string {
	return fmt.Sprintf("%s|%s", component, status)
}
