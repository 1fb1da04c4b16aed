// Package metric exposes a process resource snapshot for the metrics
// endpoint.
package metric

import (
	"runtime"
	"time"
)

// Snapshot is one read of the process's runtime state.
type Snapshot struct {
	Goroutines    int    `json:"goroutines"`
	HeapAllocMB   uint64 `json:"heap_alloc_mb"`
	HeapSysMB     uint64 `json:"heap_sys_mb"`
	NumGC         uint32 `json:"num_gc"`
	GCPauseTotal  string `json:"gc_pause_total"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Collect reads runtime stats. start is process start time for uptime.
func Collect(start time.Time) Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Snapshot{
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   ms.HeapAlloc >> 20,
		HeapSysMB:     ms.HeapSys >> 20,
		NumGC:         ms.NumGC,
		GCPauseTotal:  time.Duration(ms.PauseTotalNs).String(),
		UptimeSeconds: int64(time.Since(start).Seconds()),
	}
}
