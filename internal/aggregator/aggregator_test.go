package aggregator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-alerts/internal/fetcher"
	"crypto-alerts/internal/market"
)

func quote(price int64) market.Quote {
	return market.Quote{Price: decimal.NewFromInt(price)}
}

type hangingSource struct{ name string }

func (h hangingSource) Name() string { return h.name }
func (h hangingSource) FetchQuotes(ctx context.Context, _ []market.Symbol) (map[market.Symbol]market.Quote, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type countingAdapter struct {
	fetcher.Adapter
	calls *atomic.Int32
}

func (c countingAdapter) Fetch(ctx context.Context, symbols []market.Symbol) map[market.Symbol]market.Quote {
	c.calls.Add(1)
	return c.Adapter.Fetch(ctx, symbols)
}

func guard(src fetcher.QuoteSource) fetcher.Adapter {
	return fetcher.Guard(src, time.Second, zerolog.Nop())
}

func TestFetchAllToleratesFailingAdapters(t *testing.T) {
	symbols := []market.Symbol{"BTC/USDT", "ETH/USDT"}
	adapters := []fetcher.Adapter{
		guard(fetcher.NewStatic("a", map[market.Symbol]market.Quote{"BTC/USDT": quote(100), "ETH/USDT": quote(10)}, nil)),
		guard(fetcher.NewStatic("b", map[market.Symbol]market.Quote{"BTC/USDT": quote(101)}, nil)),
		guard(fetcher.NewStatic("c", map[market.Symbol]market.Quote{"BTC/USDT": quote(102)}, nil)),
		guard(fetcher.NewStatic("d", nil, errors.New("http 503"))),
		fetcher.Guard(hangingSource{name: "e"}, 30*time.Millisecond, zerolog.Nop()),
	}

	agg := New(adapters, Options{MaxConcurrency: 2}, zerolog.Nop())
	table := agg.FetchAll(context.Background(), symbols)

	require.Len(t, table, 2)
	assert.Equal(t, []string{"a", "b", "c"}, table.Exchanges("BTC/USDT"))
	assert.Equal(t, []string{"a"}, table.Exchanges("ETH/USDT"))
}

func TestFetchAllOmitsUnquotedSymbols(t *testing.T) {
	agg := New([]fetcher.Adapter{
		guard(fetcher.NewStatic("a", map[market.Symbol]market.Quote{"BTC/USDT": quote(100)}, nil)),
	}, Options{}, zerolog.Nop())

	table := agg.FetchAll(context.Background(), []market.Symbol{"BTC/USDT", "XRP/USDT"})
	_, ok := table["XRP/USDT"]
	assert.False(t, ok)
	assert.Len(t, table, 1)
}

func TestFetchAllQueriesEachAdapterOnce(t *testing.T) {
	var calls atomic.Int32
	base := guard(fetcher.NewStatic("a", map[market.Symbol]market.Quote{"BTC/USDT": quote(100)}, nil))
	agg := New([]fetcher.Adapter{countingAdapter{Adapter: base, calls: &calls}}, Options{}, zerolog.Nop())

	agg.FetchAll(context.Background(), []market.Symbol{"BTC/USDT", "BTC/USDT", "ETH/USDT"})
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []string{"a"}, agg.Adapters())
}

func TestFetchAllAdapterTimeout(t *testing.T) {
	agg := New([]fetcher.Adapter{
		fetcher.Guard(hangingSource{name: "slow"}, time.Minute, zerolog.Nop()),
		guard(fetcher.NewStatic("fast", map[market.Symbol]market.Quote{"BTC/USDT": quote(1)}, nil)),
	}, Options{AdapterTimeout: 25 * time.Millisecond}, zerolog.Nop())

	start := time.Now()
	table := agg.FetchAll(context.Background(), []market.Symbol{"BTC/USDT"})
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, []string{"fast"}, table.Exchanges("BTC/USDT"))
}
