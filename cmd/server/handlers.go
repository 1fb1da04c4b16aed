package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quotefeed/internal/health"
	"quotefeed/internal/metric"
	"quotefeed/internal/model"
	"quotefeed/internal/normalize"
	"quotefeed/internal/pipeline"
	"quotefeed/internal/store"
)

type server struct {
	store   store.Store
	pipe    *pipeline.Pipeline
	checker *health.Checker
	started time.Time
	group   singleflight.Group
}

func newServer(st store.Store, pipe *pipeline.Pipeline, checker *health.Checker) *server {
	return &server{store: st, pipe: pipe, checker: checker, started: time.Now()}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/latest", s.handleLatest)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	return mux
}

// handleHealth serves the latest SystemHealth. Consumers treat unhealthy and
// critical as "do not trust current data", hence the 503.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.checker.Last()
	if status == nil {
		// fall back to the persisted snapshot (e.g. right after startup)
		snap, err := s.store.HealthSnapshot(r.Context())
		if err != nil || snap == nil {
			http.Error(w, `{"error":"health status unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		status = snap
	}
	code := http.StatusOK
	if status.Status == model.StatusUnhealthy || status.Status == model.StatusCritical {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

type metricsResponse struct {
	Pipeline  pipeline.Stats           `json:"pipeline"`
	State     string                   `json:"state"`
	Primary   string                   `json:"primary"`
	Providers []pipeline.ProviderState `json:"providers"`
	Process   metric.Snapshot          `json:"process"`
}

func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metricsResponse{
		Pipeline:  s.pipe.Stats(),
		State:     s.pipe.State().String(),
		Primary:   s.pipe.Primary(),
		Providers: s.pipe.Providers(),
		Process:   metric.Collect(s.started),
	})
}

type latestResponse struct {
	Points []model.MarketDataPoint `json:"points"`
}

func (s *server) handleLatest(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	if strings.TrimSpace(raw) == "" {
		http.Error(w, `{"error":"missing symbols query param"}`, http.StatusBadRequest)
		return
	}
	symbols := splitCSV(raw)
	if len(symbols) > 100 {
		http.Error(w, `{"error":"too many symbols (max 100)"}`, http.StatusBadRequest)
		return
	}

	// the coalesced store read is shared across callers, so it must not
	// inherit any single caller's cancellation
	sctx := context.WithoutCancel(r.Context())

	out := make([]model.MarketDataPoint, 0, len(symbols))
	for _, sym := range symbols {
		sym = normalize.Symbol(sym)
		v, err, _ := s.group.Do(sym, func() (any, error) {
			return s.store.Latest(sctx, sym)
		})
		if err != nil {
			http.Error(w, `{"error":"store unavailable"}`, http.StatusBadGateway)
			return
		}
		if p, ok := v.(*model.MarketDataPoint); ok && p != nil {
			out = append(out, *p)
		}
	}
	writeJSON(w, http.StatusOK, latestResponse{Points: out})
}

type historyResponse struct {
	Symbol string                      `json:"symbol"`
	Bars   []model.HistoricalDataPoint `json:"bars"`
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	symbol := normalize.Symbol(r.URL.Query().Get("symbol"))
	if symbol == "" {
		http.Error(w, `{"error":"missing symbol query param"}`, http.StatusBadRequest)
		return
	}
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 3650 {
			http.Error(w, `{"error":"days must be between 1 and 3650"}`, http.StatusBadRequest)
			return
		}
		days = n
	}
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)
	bars, err := s.store.Bars(r.Context(), symbol, from, to)
	if err != nil {
		http.Error(w, `{"error":"store unavailable"}`, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Symbol: symbol, Bars: bars})
}

type alertsResponse struct {
	Alerts []model.Alert `json:"alerts"`
}

func (s *server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	n := int64(50)
	if v := r.URL.Query().Get("limit"); v != "" {
		x, err := strconv.ParseInt(v, 10, 64)
		if err != nil || x < 1 || x > 500 {
			http.Error(w, `{"error":"limit must be between 1 and 500"}`, http.StatusBadRequest)
			return
		}
		n = x
	}
	alerts, err := s.store.RecentAlerts(r.Context(), n)
	if err != nil {
		http.Error(w, `{"error":"store unavailable"}`, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, alertsResponse{Alerts: alerts})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func withJSONHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// withGzip compresses responses when the client supports it.
func withGzip(next http.Handler) http.Handler {
	var gzPool = sync.Pool{New: func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	}}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		gz := gzPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			_ = gz.Close()
			gz.Reset(io.Discard)
			gzPool.Put(gz)
		}()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		next.ServeHTTP(gzipResponseWriter{ResponseWriter: w, Writer: gz}, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
	return g.Writer.Write(b)
}

// limitBody caps request bodies; every endpoint here is GET but a broken
// client can still stream one.
func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		next.ServeHTTP(w, r)
	})
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
