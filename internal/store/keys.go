package store

import "fmt"

// Key namespaces. Market data and health/alert state never share keys.
const (
	alertLogKey    = "qf:alerts"
	healthKey      = "qf:health"
	probeKey       = "qf:probe"
	watermarkSpace = "qf:watermark"
)

func latestKey(symbol string) string { return fmt.Sprintf("qf:latest:%s", symbol) }

func barsKey(symbol string) string { return fmt.Sprintf("qf:bars:%s", symbol) }

func watermarkKey(name string) string { return fmt.Sprintf("%s:%s", watermarkSpace, name) }
