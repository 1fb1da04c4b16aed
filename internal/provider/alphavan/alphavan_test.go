package alphavan_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quotefeed/internal/httpx"
	"quotefeed/internal/provider/alphavan"
)

const quoteBody = `{
  "Global Quote": {
    "01. symbol": "AAPL",
    "02. open": "149.0000",
    "03. high": "151.2000",
    "04. low": "148.3000",
    "05. price": "150.0700",
    "06. volume": "1234567",
    "08. previous close": "147.0600",
    "09. change": "3.0100",
    "10. change percent": "2.0468%"
  }
}`

// seriesBody builds a two-day series with recent dates so the range cutoff
// never filters them out.
func seriesBody() string {
	now := time.Now().UTC()
	older := now.AddDate(0, 0, -3).Format("2006-01-02")
	newer := now.AddDate(0, 0, -1).Format("2006-01-02")
	return fmt.Sprintf(`{
  "Time Series (Daily)": {
    %q: {"1. open": "148.00", "2. high": "151.00", "3. low": "147.50", "4. close": "149.50", "5. volume": "1000"},
    %q: {"1. open": "149.00", "2. high": "151.20", "3. low": "148.30", "4. close": "150.07", "5. volume": "2000"}
  }
}`, older, newer)
}

func newVendor(t *testing.T, handler http.HandlerFunc) (*alphavan.Provider, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := alphavan.New(alphavan.Config{Endpoint: srv.URL, APIKey: "secret"}, httpx.New(5*time.Second))
	return p, srv
}

func TestRealTime_ParsesGlobalQuote(t *testing.T) {
	p, _ := newVendor(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("function"); got != "GLOBAL_QUOTE" {
			t.Errorf("function = %q", got)
		}
		if got := r.URL.Query().Get("apikey"); got != "secret" {
			t.Errorf("apikey = %q", got)
		}
		w.Write([]byte(quoteBody))
	})

	point, err := p.RealTime(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("RealTime: %v", err)
	}
	if point == nil {
		t.Fatal("expected a point")
	}
	if point.Symbol != "AAPL" || point.Source != "alphavan" {
		t.Fatalf("identity fields wrong: %+v", point)
	}
	if point.Price.String() != "150.07" {
		t.Fatalf("price = %s", point.Price)
	}
	// the percent suffix must be stripped before parsing
	if point.ChangePct.String() != "2.0468" {
		t.Fatalf("change pct = %s", point.ChangePct)
	}
	if point.Volume != 1234567 {
		t.Fatalf("volume = %d", point.Volume)
	}
	if point.Metadata["previous_close"] != "147.0600" {
		t.Fatalf("metadata = %v", point.Metadata)
	}
	if point.Timestamp == 0 {
		t.Fatal("timestamp must be stamped when the vendor omits one")
	}
}

func TestRealTime_EmptyQuoteMeansNoData(t *testing.T) {
	p, _ := newVendor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Global Quote": {}}`))
	})

	point, err := p.RealTime(context.Background(), "NOPE")
	if err != nil {
		t.Fatalf("RealTime: %v", err)
	}
	if point != nil {
		t.Fatalf("want nil point for empty quote, got %+v", point)
	}
}

func TestRealTime_VendorNoteIsThrottleError(t *testing.T) {
	p, _ := newVendor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Note": "Thank you for using our API. Our standard API call frequency is 5 calls per minute."}`))
	})

	_, err := p.RealTime(context.Background(), "AAPL")
	if err == nil {
		t.Fatal("vendor note must surface as an error")
	}
}

func TestRealTime_ServerErrorSurfaces(t *testing.T) {
	p, _ := newVendor(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusInternalServerError)
	})

	_, err := p.RealTime(context.Background(), "AAPL")
	if err == nil {
		t.Fatal("expected an error for a 500")
	}
}

func TestHistorical_ParsesSeriesOldestFirst(t *testing.T) {
	p, _ := newVendor(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("function"); got != "TIME_SERIES_DAILY" {
			t.Errorf("function = %q", got)
		}
		if got := r.URL.Query().Get("outputsize"); got != "compact" {
			t.Errorf("outputsize = %q", got)
		}
		w.Write([]byte(seriesBody()))
	})

	bars, err := p.Historical(context.Background(), "AAPL", 30)
	if err != nil {
		t.Fatalf("Historical: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	if !bars[0].Date.Before(bars[1].Date) {
		t.Fatal("bars must be sorted oldest first")
	}
	if bars[1].Close.String() != "150.07" || bars[1].Volume != 2000 {
		t.Fatalf("unexpected bar: %+v", bars[1])
	}
}

func TestHistorical_MalformedVolumeDropsBar(t *testing.T) {
	now := time.Now().UTC()
	good := now.AddDate(0, 0, -1).Format("2006-01-02")
	bad := now.AddDate(0, 0, -2).Format("2006-01-02")
	body := fmt.Sprintf(`{
  "Time Series (Daily)": {
    %q: {"1. open": "149.00", "2. high": "151.20", "3. low": "148.30", "4. close": "150.07", "5. volume": "2000"},
    %q: {"1. open": "148.00", "2. high": "151.00", "3. low": "147.50", "4. close": "149.50", "5. volume": "12x3"}
  }
}`, good, bad)

	p, _ := newVendor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	})

	bars, err := p.Historical(context.Background(), "AAPL", 30)
	if err != nil {
		t.Fatalf("Historical: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("got %d bars, want 1 (malformed volume must not pass)", len(bars))
	}
	// and never a partial parse of the garbled value
	if bars[0].Volume != 2000 {
		t.Fatalf("volume = %d, want 2000", bars[0].Volume)
	}
}

func TestHistorical_FullOutputForLongRanges(t *testing.T) {
	p, _ := newVendor(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("outputsize"); got != "full" {
			t.Errorf("outputsize = %q, want full for long ranges", got)
		}
		w.Write([]byte(`{"Time Series (Daily)": {}}`))
	})

	if _, err := p.Historical(context.Background(), "AAPL", 365); err != nil {
		t.Fatalf("Historical: %v", err)
	}
}

func TestConnectDisconnect(t *testing.T) {
	p, _ := newVendor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	if p.Connected() {
		t.Fatal("new adapter must start disconnected")
	}
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !p.Connected() {
		t.Fatal("adapter must report connected after Connect")
	}
	res := p.Probe(context.Background())
	if !res.Healthy {
		t.Fatalf("probe unhealthy: %s", res.Err)
	}
	if err := p.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if p.Connected() {
		t.Fatal("adapter must report disconnected after Disconnect")
	}
}
