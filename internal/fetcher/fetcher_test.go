package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-alerts/internal/market"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type panicSource struct{}

func (panicSource) Name() string { return "broken" }
func (panicSource) FetchQuotes(context.Context, []market.Symbol) (map[market.Symbol]market.Quote, error) {
	panic("boom")
}

type slowSource struct{}

func (slowSource) Name() string { return "slow" }
func (slowSource) FetchQuotes(ctx context.Context, _ []market.Symbol) (map[market.Symbol]market.Quote, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGuardRecoversPanic(t *testing.T) {
	adapter := Guard(panicSource{}, time.Second, noopLogger())
	quotes := adapter.Fetch(context.Background(), []market.Symbol{"BTC/USDT"})
	assert.Empty(t, quotes)
}

func TestGuardHonoursTimeout(t *testing.T) {
	adapter := Guard(slowSource{}, 20*time.Millisecond, noopLogger())
	start := time.Now()
	quotes := adapter.Fetch(context.Background(), []market.Symbol{"BTC/USDT"})
	assert.Empty(t, quotes)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGuardKeepsPartialResultAndDropsInvalid(t *testing.T) {
	src := NewStatic("static", map[market.Symbol]market.Quote{
		"BTC/USDT": {Price: decimal.NewFromInt(100)},
		"ETH/USDT": {Price: decimal.Zero},
		"SOL/USDT": {Price: decimal.NewFromInt(20)},
	}, errors.New("one pair failed"))

	adapter := Guard(src, time.Second, noopLogger())
	quotes := adapter.Fetch(context.Background(), []market.Symbol{"BTC/USDT", "ETH/USDT"})

	require.Len(t, quotes, 1)
	q := quotes["BTC/USDT"]
	assert.Equal(t, "static", q.Exchange)
	assert.Equal(t, market.Symbol("BTC/USDT"), q.Symbol)
	assert.False(t, q.ObservedAt.IsZero())
}

func TestCoinbaseFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/products/BTC-USD/ticker":
			_, _ = w.Write([]byte(`{"price":"100.5","bid":"100.4","ask":"100.6","volume":"1234.5","time":"2024-05-01T10:00:00.123Z"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"NotFound"}`))
		}
	}))
	defer srv.Close()

	src := NewCoinbase(Options{BaseURL: srv.URL, Timeout: time.Second})
	quotes, err := src.FetchQuotes(context.Background(), []market.Symbol{"BTC/USDT", "FOO/USDT"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NotFound")
	require.Len(t, quotes, 1)

	q := quotes["BTC/USDT"]
	assert.True(t, q.Price.Equal(decimal.RequireFromString("100.5")))
	require.NotNil(t, q.Bid)
	require.NotNil(t, q.Ask)
	assert.True(t, q.Ask.Equal(decimal.RequireFromString("100.6")))
	assert.Equal(t, 2024, q.ObservedAt.Year())
}

func TestKrakenFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pair") == "BTCUSDT" {
			_, _ = w.Write([]byte(`{"error":[],"result":{"XBTUSDT":{"a":["101.0","1","1.0"],"b":["100.0","2","2.0"],"c":["100.5","0.1"],"v":["10","250"]}}}`))
			return
		}
		_, _ = w.Write([]byte(`{"error":["EQuery:Unknown asset pair"]}`))
	}))
	defer srv.Close()

	src := NewKraken(Options{BaseURL: srv.URL, Timeout: time.Second})
	quotes, err := src.FetchQuotes(context.Background(), []market.Symbol{"BTC/USDT", "ZZZ/USDT"})
	require.Error(t, err)
	require.Len(t, quotes, 1)

	q := quotes["BTC/USDT"]
	assert.True(t, q.Price.Equal(decimal.RequireFromString("100.5")))
	assert.True(t, q.Bid.Equal(decimal.NewFromInt(100)))
	assert.True(t, q.Ask.Equal(decimal.NewFromInt(101)))
	assert.True(t, q.Volume24h.Equal(decimal.NewFromInt(250)))
}

func TestKuCoinFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/market/allTickers", r.URL.Path)
		_, _ = w.Write([]byte(`{"code":"200000","data":{"ticker":[
			{"symbol":"BTC-USDT","last":"100","buy":"99.9","sell":"100.1","volValue":"5000","changeRate":"0.0125"},
			{"symbol":"ETH-USDT","last":"","buy":"1","sell":"2"},
			{"symbol":"DOGE-USDT","last":"0.1"}
		]}}`))
	}))
	defer srv.Close()

	src := NewKuCoin(Options{BaseURL: srv.URL, Timeout: time.Second})
	quotes, err := src.FetchQuotes(context.Background(), []market.Symbol{"BTC/USDT", "ETH/USDT"})
	require.NoError(t, err)
	require.Len(t, quotes, 1)

	q := quotes["BTC/USDT"]
	require.NotNil(t, q.Change24hPct)
	assert.True(t, q.Change24hPct.Equal(decimal.RequireFromString("1.25")), q.Change24hPct.String())
}

func TestKuCoinAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"429000","msg":"Too many requests"}`))
	}))
	defer srv.Close()

	src := NewKuCoin(Options{BaseURL: srv.URL, Timeout: time.Second})
	_, err := src.FetchQuotes(context.Background(), []market.Symbol{"BTC/USDT"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Too many requests")
}

func TestParseBybitTickers(t *testing.T) {
	payload := []byte(`{"category":"spot","list":[
		{"symbol":"BTCUSDT","lastPrice":"100","bid1Price":"99.5","ask1Price":"100.5","volume24h":"42","price24hPcnt":"-0.02"},
		{"symbol":"ETHUSDT","lastPrice":"3000"}
	]}`)

	quotes := parseBybitTickers(payload, []market.Symbol{"BTC/USDT"})
	require.Len(t, quotes, 1)
	q := quotes["BTC/USDT"]
	assert.True(t, q.Change24hPct.Equal(decimal.NewFromInt(-2)))
	assert.True(t, q.Bid.Equal(decimal.RequireFromString("99.5")))
}

func TestBinanceFallsBackToSingleSymbols(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbols") != "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
			return
		}
		switch r.URL.Query().Get("symbol") {
		case "BTCUSDT":
			_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","lastPrice":"100.0","bidPrice":"99.9","askPrice":"100.1","volume":"10","priceChangePercent":"1.5","closeTime":1714557600000}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
		}
	}))
	defer srv.Close()

	src := NewBinance(Options{BaseURL: srv.URL, Timeout: time.Second})
	quotes, err := src.FetchQuotes(context.Background(), []market.Symbol{"BTC/USDT", "NOPE/USDT"})
	require.Error(t, err)
	require.Len(t, quotes, 1)
	q := quotes["BTC/USDT"]
	assert.True(t, q.Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, q.Change24hPct.Equal(decimal.RequireFromString("1.5")))
}

func TestRegistry(t *testing.T) {
	src, err := New("Kraken", Options{})
	require.NoError(t, err)
	assert.Equal(t, "kraken", src.Name())

	_, err = New("mtgox", Options{})
	assert.Error(t, err)
	assert.Equal(t, []string{"binance", "bybit", "coinbase", "kraken", "kucoin"}, Supported())
}
