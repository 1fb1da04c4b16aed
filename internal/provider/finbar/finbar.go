// Package finbar adapts a Finnhub style token-authenticated JSON vendor to
// the provider contract.
package finbar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"quotefeed/internal/model"
	"quotefeed/internal/provider"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=finbar_test -destination=mock_http_client_test.go -source=finbar.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider is the finbar vendor adapter.
type Provider struct {
	name       string
	baseURL    string
	token      string
	httpClient HTTPClient
	pacer      *provider.Pacer
	connected  atomic.Bool
}

// Option configures the adapter.
type Option func(*Provider)

// WithBaseURL overrides the vendor endpoint.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) { p.baseURL = baseURL }
}

// WithHTTPClient sets the HTTP client used for vendor calls.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(p *Provider) { p.httpClient = httpClient }
}

// WithMinInterval sets the vendor-local pacing interval.
func WithMinInterval(d time.Duration) Option {
	return func(p *Provider) { p.pacer = &provider.Pacer{Interval: d} }
}

// New creates a finbar adapter. The token is required.
func New(token string, options ...Option) (*Provider, error) {
	if token == "" {
		return nil, fmt.Errorf("finbar: token is required")
	}
	p := &Provider{
		name:       "finbar",
		baseURL:    "https://finnhub.io/api/v1",
		token:      token,
		httpClient: http.DefaultClient,
		pacer:      &provider.Pacer{},
	}
	for _, opt := range options {
		opt(p)
	}
	return p, nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Connect(ctx context.Context) error {
	res := p.Probe(ctx)
	if !res.Healthy {
		return fmt.Errorf("%s connect: %s", p.name, res.Err)
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

func (p *Provider) Probe(ctx context.Context) provider.ProbeResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/ping", nil)
	if err != nil {
		return provider.ProbeResult{Err: err.Error()}
	}
	req.Header.Set("X-Finnhub-Token", p.token)
	start := time.Now()
	resp, err := p.httpClient.Do(req)
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
	q.Set("symbol", symbol)

	var api quoteResponse
	if err := p.get(ctx, "/quote", q, &api); err != nil {
		return nil, err
	}
	// the vendor returns an all-zero quote for unknown symbols
	if api.Timestamp == 0 {
		return nil, nil
	}

	price, err := decimal.NewFromString(api.Current.String())
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", api.Current, err)
	}
	change := numToDecimal(api.Change)
	changePct := numToDecimal(api.ChangePct)
	ts := time.Unix(api.Timestamp, 0).UTC().UnixMilli()

	return &model.MarketDataPoint{
		Symbol:    symbol,
		Price:     price,
		Change:    change,
		ChangePct: changePct,
		Volume:    api.Volume,
		Timestamp: ts,
		Source:    p.name,
		Metadata: map[string]string{
			"open":           api.Open.String(),
			"high":           api.High.String(),
			"low":            api.Low.String(),
			"previous_close": api.PrevClose.String(),
		},
	}, nil
}

func (p *Provider) Historical(ctx context.Context, symbol string, days int) ([]model.HistoricalDataPoint, error) {
	if err := p.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("resolution", "D")
	q.Set("from", strconv.FormatInt(from.Unix(), 10))
	q.Set("to", strconv.FormatInt(to.Unix(), 10))

	var api candleResponse
	if err := p.get(ctx, "/stock/candle", q, &api); err != nil {
		return nil, err
	}
	if api.Status == "no_data" {
		return nil, nil
	}
	if api.Status != "ok" {
		return nil, fmt.Errorf("%s candles: status %q", p.name, api.Status)
	}
	n := len(api.Times)
	if len(api.Opens) != n || len(api.Highs) != n || len(api.Lows) != n || len(api.Closes) != n {
		return nil, fmt.Errorf("%s candles: ragged arrays", p.name)
	}

	out := make([]model.HistoricalDataPoint, 0, n)
	for i := 0; i < n; i++ {
		var volume int64
		if i < len(api.Volumes) {
			volume, _ = api.Volumes[i].Int64()
		}
		out = append(out, model.HistoricalDataPoint{
			Symbol: symbol,
			Date:   time.Unix(api.Times[i], 0).UTC().Truncate(24 * time.Hour),
			Open:   numToDecimal(api.Opens[i]),
			High:   numToDecimal(api.Highs[i]),
			Low:    numToDecimal(api.Lows[i]),
			Close:  numToDecimal(api.Closes[i]),
			Volume: volume,
			Source: p.name,
		})
	}
	return out, nil
}

func (p *Provider) get(ctx context.Context, path string, q url.Values, into any) error {
	u := p.baseURL + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Finnhub-Token", p.token)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s throttled: status 429", p.name)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return fmt.Errorf("GET %s -> %d: %s", path, resp.StatusCode, string(b))
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func numToDecimal(n json.Number) decimal.Decimal {
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

type quoteResponse struct {
	Current   json.Number `json:"c"`
	Change    json.Number `json:"d"`
	ChangePct json.Number `json:"dp"`
	High      json.Number `json:"h"`
	Low       json.Number `json:"l"`
	Open      json.Number `json:"o"`
	PrevClose json.Number `json:"pc"`
	Volume    int64       `json:"v"`
	Timestamp int64       `json:"t"`
}

type candleResponse struct {
	Opens   []json.Number `json:"o"`
	Highs   []json.Number `json:"h"`
	Lows    []json.Number `json:"l"`
	Closes  []json.Number `json:"c"`
	Volumes []json.Number `json:"v"`
	Times   []int64       `json:"t"`
	Status  string        `json:"s"`
}
