package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSymbol(t *testing.T) {
	sym, err := ParseSymbol(" btc-usdt ")
	require.NoError(t, err)
	assert.Equal(t, Symbol("BTC/USDT"), sym)
	assert.Equal(t, "BTC", sym.Base())
	assert.Equal(t, "USDT", sym.Quote())
	assert.Equal(t, "BTCUSDT", sym.Join(""))

	_, err = ParseSymbol("BTCUSDT")
	assert.Error(t, err)
	_, err = ParseSymbol("/USDT")
	assert.Error(t, err)
}

func TestQuoteTableAverageAndRange(t *testing.T) {
	table := QuoteTable{}
	now := time.Now()
	table.Put(Quote{Symbol: "ETH/USDT", Exchange: "binance", Price: decimal.NewFromInt(100), ObservedAt: now})
	table.Put(Quote{Symbol: "ETH/USDT", Exchange: "kraken", Price: decimal.NewFromInt(104), ObservedAt: now})
	table.Put(Quote{Symbol: "ETH/USDT", Exchange: "kraken", Price: decimal.NewFromInt(102), ObservedAt: now})

	avg, ok := table.Average("ETH/USDT")
	require.True(t, ok)
	assert.True(t, avg.Equal(decimal.NewFromInt(101)), avg.String())

	low, high, ok := table.Range("ETH/USDT")
	require.True(t, ok)
	assert.True(t, low.Equal(decimal.NewFromInt(100)))
	assert.True(t, high.Equal(decimal.NewFromInt(102)))

	_, ok = table.Average("BTC/USDT")
	assert.False(t, ok)
	assert.Equal(t, []string{"binance", "kraken"}, table.Exchanges("ETH/USDT"))
}

func TestQuoteHasBook(t *testing.T) {
	q := Quote{Symbol: "BTC/USDT", Exchange: "x", Price: decimal.NewFromInt(1)}
	assert.True(t, q.Valid())
	assert.False(t, q.HasBook())
	q.Bid = Opt(decimal.NewFromInt(1))
	q.Ask = Opt(decimal.Zero)
	assert.False(t, q.HasBook())
	q.Ask = Opt(decimal.NewFromInt(2))
	assert.True(t, q.HasBook())
}
