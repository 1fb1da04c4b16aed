package finbar_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"quotefeed/internal/provider/finbar"
)

func jsonResponse(code int, body string) *http.Response {
	return &http.Response{
		StatusCode: code,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := finbar.New("")
	require.Error(t, err)

	p, err := finbar.New("token")
	require.NoError(t, err)
	require.Equal(t, "finbar", p.Name())
	require.False(t, p.Connected())
}

func TestRealTime_ParsesQuote(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockHTTPClient(ctrl)

	client.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		require.Equal(t, "secret", req.Header.Get("X-Finnhub-Token"))
		require.Equal(t, "/quote", req.URL.Path)
		require.Equal(t, "AAPL", req.URL.Query().Get("symbol"))
		return jsonResponse(http.StatusOK,
			`{"c":150.07,"d":3.01,"dp":2.05,"h":151.2,"l":148.3,"o":149.0,"pc":147.06,"v":1234567,"t":1756598400}`), nil
	})

	p, err := finbar.New("secret", finbar.WithHTTPClient(client))
	require.NoError(t, err)

	point, err := p.RealTime(context.Background(), "AAPL")
	require.NoError(t, err)
	require.NotNil(t, point)
	require.Equal(t, "AAPL", point.Symbol)
	require.Equal(t, "150.07", point.Price.String())
	require.Equal(t, "3.01", point.Change.String())
	require.Equal(t, "2.05", point.ChangePct.String())
	require.Equal(t, int64(1234567), point.Volume)
	require.Equal(t, time.Unix(1756598400, 0).UTC().UnixMilli(), point.Timestamp)
	require.Equal(t, "finbar", point.Source)
	require.Equal(t, "147.06", point.Metadata["previous_close"])
}

func TestRealTime_UnknownSymbolReturnsNoData(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockHTTPClient(ctrl)
	client.EXPECT().Do(gomock.Any()).Return(jsonResponse(http.StatusOK, `{"c":0,"t":0}`), nil)

	p, err := finbar.New("secret", finbar.WithHTTPClient(client))
	require.NoError(t, err)

	point, err := p.RealTime(context.Background(), "NOPE")
	require.NoError(t, err)
	require.Nil(t, point)
}

func TestRealTime_ThrottledIsAnError(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockHTTPClient(ctrl)
	client.EXPECT().Do(gomock.Any()).Return(jsonResponse(http.StatusTooManyRequests, ``), nil)

	p, err := finbar.New("secret", finbar.WithHTTPClient(client))
	require.NoError(t, err)

	_, err = p.RealTime(context.Background(), "AAPL")
	require.Error(t, err)
	require.Contains(t, err.Error(), "throttled")
}

func TestRealTime_TransportError(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockHTTPClient(ctrl)
	client.EXPECT().Do(gomock.Any()).Return(nil, errors.New("dial tcp: connection refused"))

	p, err := finbar.New("secret", finbar.WithHTTPClient(client))
	require.NoError(t, err)

	_, err = p.RealTime(context.Background(), "AAPL")
	require.Error(t, err)
}

func TestHistorical_ParsesCandles(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockHTTPClient(ctrl)
	client.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		require.Equal(t, "/stock/candle", req.URL.Path)
		require.Equal(t, "D", req.URL.Query().Get("resolution"))
		return jsonResponse(http.StatusOK,
			`{"s":"ok","t":[1756512000,1756598400],"o":[148.0,149.0],"h":[151.0,151.2],"l":[147.5,148.3],"c":[149.5,150.07],"v":[1000,2000]}`), nil
	})

	p, err := finbar.New("secret", finbar.WithHTTPClient(client))
	require.NoError(t, err)

	bars, err := p.Historical(context.Background(), "AAPL", 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	require.Equal(t, "149.5", bars[0].Close.String())
	require.Equal(t, "150.07", bars[1].Close.String())
	require.Equal(t, int64(2000), bars[1].Volume)
	require.Equal(t, time.Unix(1756598400, 0).UTC().Truncate(24*time.Hour), bars[1].Date)
}

func TestHistorical_NoData(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockHTTPClient(ctrl)
	client.EXPECT().Do(gomock.Any()).Return(jsonResponse(http.StatusOK, `{"s":"no_data"}`), nil)

	p, err := finbar.New("secret", finbar.WithHTTPClient(client))
	require.NoError(t, err)

	bars, err := p.Historical(context.Background(), "AAPL", 5)
	require.NoError(t, err)
	require.Nil(t, bars)
}

func TestHistorical_RaggedArraysRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockHTTPClient(ctrl)
	client.EXPECT().Do(gomock.Any()).Return(jsonResponse(http.StatusOK,
		`{"s":"ok","t":[1756512000,1756598400],"o":[148.0],"h":[151.0],"l":[147.5],"c":[149.5]}`), nil)

	p, err := finbar.New("secret", finbar.WithHTTPClient(client))
	require.NoError(t, err)

	_, err = p.Historical(context.Background(), "AAPL", 2)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ragged")
}

func TestConnect_ProbesEndpoint(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockHTTPClient(ctrl)
	client.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		require.Equal(t, "/ping", req.URL.Path)
		return jsonResponse(http.StatusOK, `{}`), nil
	})

	p, err := finbar.New("secret", finbar.WithHTTPClient(client))
	require.NoError(t, err)

	require.NoError(t, p.Connect(context.Background()))
	require.True(t, p.Connected())

	require.NoError(t, p.Disconnect(context.Background()))
	require.False(t, p.Connected())
}

func TestConnect_FailsWhenVendorDown(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockHTTPClient(ctrl)
	client.EXPECT().Do(gomock.Any()).Return(jsonResponse(http.StatusBadGateway, ``), nil)

	p, err := finbar.New("secret", finbar.WithHTTPClient(client))
	require.NoError(t, err)

	require.Error(t, p.Connect(context.Background()))
	require.False(t, p.Connected())
}
