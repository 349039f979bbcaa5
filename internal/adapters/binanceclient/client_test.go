package binanceclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalExecBot/internal/domain"
	"signalExecBot/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

const exchangeInfo = `{
  "timezone": "UTC",
  "serverTime": 1714564800000,
  "symbols": [
    {"symbol": "BTCUSDT", "pair": "BTCUSDT", "contractType": "PERPETUAL", "status": "TRADING",
     "baseAsset": "BTC", "quoteAsset": "USDT", "marginAsset": "USDT",
     "filters": [
       {"filterType": "PRICE_FILTER", "minPrice": "556.80", "maxPrice": "4529764", "tickSize": "0.10"},
       {"filterType": "LOT_SIZE", "minQty": "0.001", "maxQty": "1000", "stepSize": "0.001"}
     ]},
    {"symbol": "ETHUSDT", "pair": "ETHUSDT", "contractType": "PERPETUAL", "status": "TRADING",
     "baseAsset": "ETH", "quoteAsset": "USDT", "marginAsset": "USDT",
     "filters": [
       {"filterType": "PRICE_FILTER", "minPrice": "39.86", "maxPrice": "306177", "tickSize": "0.01"},
       {"filterType": "LOT_SIZE", "minQty": "0.001", "maxQty": "10000", "stepSize": "0.001"}
     ]},
    {"symbol": "BTCUSDT_240628", "pair": "BTCUSDT", "contractType": "CURRENT_QUARTER", "status": "TRADING",
     "baseAsset": "BTC", "quoteAsset": "USDT", "marginAsset": "USDT",
     "filters": [
       {"filterType": "PRICE_FILTER", "tickSize": "0.1"},
       {"filterType": "LOT_SIZE", "stepSize": "0.001"}
     ]},
    {"symbol": "XRPUSDT", "pair": "XRPUSDT", "contractType": "PERPETUAL", "status": "SETTLING",
     "baseAsset": "XRP", "quoteAsset": "USDT", "marginAsset": "USDT",
     "filters": [
       {"filterType": "PRICE_FILTER", "tickSize": "0.0001"},
       {"filterType": "LOT_SIZE", "stepSize": "0.1"}
     ]}
  ]
}`

func newServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/exchangeInfo", r.URL.Path)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
}

func TestLoad_MapsPerpetualFilters(t *testing.T) {
	srv := newServer(t, http.StatusOK, exchangeInfo)
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, DefaultMaxLeverage: 5, Logger: &mockLogger{}})
	require.NoError(t, err)

	got, err := c.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.SymbolTradingRule{
		{Symbol: "BTC", LotSize: 0.001, TickSize: 0.1, MaxLeverage: 5},
		{Symbol: "ETH", LotSize: 0.001, TickSize: 0.01, MaxLeverage: 5},
	}, got)
}

func TestLoad_AllowList(t *testing.T) {
	srv := newServer(t, http.StatusOK, exchangeInfo)
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Symbols: []string{"eth"}, Logger: &mockLogger{}})
	require.NoError(t, err)

	got, err := c.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ETH", got[0].Symbol)
}

func TestLoad_APIError(t *testing.T) {
	srv := newServer(t, http.StatusTooManyRequests, `{"code":-1003,"msg":"Too many requests"}`)
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Logger: &mockLogger{}})
	require.NoError(t, err)

	_, err = c.Load(context.Background())
	assert.ErrorIs(t, err, ports.ErrTransientServer)
}

func TestNew_RequiresLogger(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
