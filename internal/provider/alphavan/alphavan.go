// Package alphavan adapts an Alpha Vantage style JSON-over-GET vendor to the
// provider contract.
package alphavan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"quotefeed/internal/httpx"
	"quotefeed/internal/model"
	"quotefeed/internal/provider"
)

type Config struct {
	Name        string
	Endpoint    string
	APIKey      string
	MinInterval time.Duration
}

type Provider struct {
	cfg       Config
	client    *httpx.Client
	pacer     *provider.Pacer
	connected atomic.Bool
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "alphavan"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://www.alphavantage.co/query"
	}
	return &Provider{cfg: cfg, client: hc, pacer: &provider.Pacer{Interval: cfg.MinInterval}}
}

func (p *Provider) Name() string { return p.cfg.Name }

// Connect verifies the endpoint is reachable and marks the adapter usable.
func (p *Provider) Connect(ctx context.Context) error {
	res := p.Probe(ctx)
	if !res.Healthy {
		return fmt.Errorf("%s connect: %s", p.cfg.Name, res.Err)
	}
	p.connected.Store(true)
	return nil
}

func (p *Provider) Disconnect(_ context.Context) error {
	p.connected.Store(false)
	return nil
}

func (p *Provider) Connected() bool { return p.connected.Load() }

func (p *Provider) RateLimit() provider.LimitInfo { return p.pacer.Info() }

// Probe issues a minimal request and measures the round trip. It never
// spends quota on a symbol lookup.
func (p *Provider) Probe(ctx context.Context) provider.ProbeResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Endpoint, nil)
	if err != nil {
		return provider.ProbeResult{Err: err.Error()}
	}
	start := time.Now()
	resp, err := p.client.Do(ctx, req)
	lat := time.Since(start)
	if err != nil {
		return provider.ProbeResult{Latency: lat, Err: err.Error()}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode >= 500 {
		return provider.ProbeResult{Latency: lat, Err: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	return provider.ProbeResult{Healthy: true, Latency: lat}
}

func (p *Provider) RealTime(ctx context.Context, symbol string) (*model.MarketDataPoint, error) {
	if err := p.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("function", "GLOBAL_QUOTE")
	q.Set("symbol", symbol)
	q.Set("apikey", p.cfg.APIKey)

	var api quoteResponse
	if err := p.get(ctx, q, &api); err != nil {
		return nil, err
	}
	if api.Note != "" {
		return nil, fmt.Errorf("%s throttled: %s", p.cfg.Name, api.Note)
	}
	g := api.Quote
	if g.Symbol == "" || g.Price == "" {
		// vendor has no data for this symbol
		return nil, nil
	}

	price, err := decimal.NewFromString(strings.TrimSpace(g.Price))
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", g.Price, err)
	}
	change, _ := decimal.NewFromString(strings.TrimSpace(g.Change))
	changePct, _ := decimal.NewFromString(strings.TrimSuffix(strings.TrimSpace(g.ChangePct), "%"))
	var volume int64
	if g.Volume != "" {
		v, err := g.volumeNumber()
		if err != nil {
			return nil, fmt.Errorf("parse volume %q: %w", g.Volume, err)
		}
		volume = v
	}

	return &model.MarketDataPoint{
		Symbol:    g.Symbol,
		Price:     price,
		Change:    change,
		ChangePct: changePct,
		Volume:    volume,
		Timestamp: time.Now().UTC().UnixMilli(),
		Source:    p.cfg.Name,
		Metadata: map[string]string{
			"open":           strings.TrimSpace(g.Open),
			"high":           strings.TrimSpace(g.High),
			"low":            strings.TrimSpace(g.Low),
			"previous_close": strings.TrimSpace(g.PrevClose),
		},
	}, nil
}

func (p *Provider) Historical(ctx context.Context, symbol string, days int) ([]model.HistoricalDataPoint, error) {
	if err := p.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("function", "TIME_SERIES_DAILY")
	q.Set("symbol", symbol)
	q.Set("outputsize", outputSize(days))
	q.Set("apikey", p.cfg.APIKey)

	var api seriesResponse
	if err := p.get(ctx, q, &api); err != nil {
		return nil, err
	}
	if api.Note != "" {
		return nil, fmt.Errorf("%s throttled: %s", p.cfg.Name, api.Note)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	out := make([]model.HistoricalDataPoint, 0, days)
	for day, bar := range api.Series {
		date, err := time.Parse("2006-01-02", day)
		if err != nil {
			continue
		}
		if date.Before(cutoff) {
			continue
		}
		open, err1 := decimal.NewFromString(bar.Open)
		high, err2 := decimal.NewFromString(bar.High)
		low, err3 := decimal.NewFromString(bar.Low)
		cls, err4 := decimal.NewFromString(bar.Close)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		volume, err := strconv.ParseInt(strings.TrimSpace(bar.Volume), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, model.HistoricalDataPoint{
			Symbol: symbol,
			Date:   date,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  cls,
			Volume: volume,
			Source: p.cfg.Name,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (p *Provider) get(ctx context.Context, q url.Values, into any) error {
	u := p.cfg.Endpoint + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return fmt.Errorf("GET %s -> %d: %s", p.cfg.Endpoint, resp.StatusCode, string(b))
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func outputSize(days int) string {
	if days > 100 {
		return "full"
	}
	return "compact"
}

type quoteResponse struct {
	Quote globalQuote `json:"Global Quote"`
	Note  string      `json:"Note"`
}

type globalQuote struct {
	Symbol    string `json:"01. symbol"`
	Open      string `json:"02. open"`
	High      string `json:"03. high"`
	Low       string `json:"04. low"`
	Price     string `json:"05. price"`
	Volume    string `json:"06. volume"`
	PrevClose string `json:"08. previous close"`
	Change    string `json:"09. change"`
	ChangePct string `json:"10. change percent"`
}

func (g globalQuote) volumeNumber() (int64, error) {
	n := json.Number(strings.TrimSpace(g.Volume))
	return n.Int64()
}

type seriesResponse struct {
	Series map[string]seriesBar `json:"Time Series (Daily)"`
	Note   string               `json:"Note"`
}

type seriesBar struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}
