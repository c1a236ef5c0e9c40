package detector

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-alerts/internal/market"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func book(sym market.Symbol, exchange, bid, ask string) market.Quote {
	b, a := dec(bid), dec(ask)
	return market.Quote{
		Symbol:   sym,
		Exchange: exchange,
		Price:    b.Add(a).Div(decimal.NewFromInt(2)),
		Bid:      &b,
		Ask:      &a,
	}
}

func last(sym market.Symbol, exchange, price string) market.Quote {
	return market.Quote{Symbol: sym, Exchange: exchange, Price: dec(price)}
}

func TestArbitrageConcreteScenario(t *testing.T) {
	table := market.QuoteTable{}
	table.Put(book("BTC/USDT", "A", "100.10", "100.00"))
	table.Put(book("BTC/USDT", "B", "101.00", "100.50"))

	opps := DetectArbitrage(table, []market.Symbol{"BTC/USDT"}, dec("0.2"), time.Now())
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, "A", opp.BuyExchange)
	assert.True(t, opp.BuyPrice.Equal(dec("100")))
	assert.Equal(t, "B", opp.SellExchange)
	assert.True(t, opp.SellPrice.Equal(dec("101")))
	assert.True(t, opp.ProfitPct.Equal(dec("1")), opp.ProfitPct.String())
	assert.True(t, opp.ProfitAbs.Equal(dec("1")))
}

func TestArbitrageRespectsThreshold(t *testing.T) {
	table := market.QuoteTable{}
	table.Put(book("BTC/USDT", "A", "100.10", "100.00"))
	table.Put(book("BTC/USDT", "B", "101.00", "100.50"))

	for _, threshold := range []string{"0", "0.5", "1", "1.0000001", "5"} {
		min := dec(threshold)
		for _, opp := range DetectArbitrage(table, []market.Symbol{"BTC/USDT"}, min, time.Now()) {
			assert.False(t, opp.ProfitPct.LessThan(min), "threshold %s", threshold)
		}
	}
	assert.Len(t, DetectArbitrage(table, []market.Symbol{"BTC/USDT"}, dec("1"), time.Now()), 1)
	assert.Empty(t, DetectArbitrage(table, []market.Symbol{"BTC/USDT"}, dec("1.0000001"), time.Now()))
}

func TestArbitrageSkipsIncompleteBooks(t *testing.T) {
	table := market.QuoteTable{}
	table.Put(book("ETH/USDT", "A", "10", "9"))
	table.Put(last("ETH/USDT", "B", "12"))
	table.Put(book("SOL/USDT", "A", "5", "4"))

	assert.Empty(t, DetectArbitrage(table, []market.Symbol{"ETH/USDT", "SOL/USDT", "XRP/USDT"}, decimal.Zero, time.Now()))
}

func TestArbitrageNoSpread(t *testing.T) {
	table := market.QuoteTable{}
	table.Put(book("BTC/USDT", "A", "100", "100.2"))
	table.Put(book("BTC/USDT", "B", "100.1", "100.3"))

	assert.Empty(t, DetectArbitrage(table, []market.Symbol{"BTC/USDT"}, decimal.Zero, time.Now()))
}

func TestArbitrageExcludesSameExchangeSpread(t *testing.T) {
	table := market.QuoteTable{}
	// A quotes bid above its own ask; the only valid pair is across venues
	table.Put(book("BTC/USDT", "A", "105", "99"))
	table.Put(book("BTC/USDT", "B", "101", "102"))
	table.Put(book("BTC/USDT", "C", "100", "100.5"))

	opps := DetectArbitrage(table, []market.Symbol{"BTC/USDT"}, decimal.Zero, time.Now())
	require.Len(t, opps, 1)
	opp := opps[0]
	assert.NotEqual(t, opp.BuyExchange, opp.SellExchange)
	// buy C@100.5 sell A@105 (4.48%) beats buy A@99 sell B@101 (2.02%)
	assert.Equal(t, "C", opp.BuyExchange)
	assert.Equal(t, "A", opp.SellExchange)
}

func TestArbitrageSelfSpreadWithoutAlternative(t *testing.T) {
	table := market.QuoteTable{}
	table.Put(book("BTC/USDT", "A", "105", "99"))
	table.Put(book("BTC/USDT", "B", "98", "106"))

	assert.Empty(t, DetectArbitrage(table, []market.Symbol{"BTC/USDT"}, decimal.Zero, time.Now()))
}

func TestArbitrageOrdering(t *testing.T) {
	table := market.QuoteTable{}
	table.Put(book("ETH/USDT", "A", "10", "9"))
	table.Put(book("ETH/USDT", "B", "10.1", "10.05"))
	table.Put(book("BTC/USDT", "A", "100", "99"))
	table.Put(book("BTC/USDT", "B", "103", "102"))
	table.Put(book("SOL/USDT", "A", "10", "9"))
	table.Put(book("SOL/USDT", "B", "10.1", "10.05"))

	opps := DetectArbitrage(table, []market.Symbol{"SOL/USDT", "BTC/USDT", "ETH/USDT"}, decimal.Zero, time.Now())
	require.Len(t, opps, 3)
	// SOL and ETH tie at 12.22%, BTC trails at 4.04%; ties keep input order
	assert.Equal(t, market.Symbol("SOL/USDT"), opps[0].Symbol)
	assert.Equal(t, market.Symbol("ETH/USDT"), opps[1].Symbol)
	assert.Equal(t, market.Symbol("BTC/USDT"), opps[2].Symbol)
}

func TestArbitragePartialExchangeSet(t *testing.T) {
	table := market.QuoteTable{}
	table.Put(book("BTC/USDT", "binance", "100.10", "100.00"))
	table.Put(book("BTC/USDT", "kraken", "101.00", "100.50"))
	table.Put(book("BTC/USDT", "kucoin", "100.20", "100.05"))
	table.Put(book("ETH/USDT", "kucoin", "10", "9"))

	opps := DetectArbitrage(table, []market.Symbol{"BTC/USDT", "ETH/USDT"}, decimal.Zero, time.Now())
	require.Len(t, opps, 1)
	assert.Equal(t, "binance", opps[0].BuyExchange)
	assert.Equal(t, "kraken", opps[0].SellExchange)
}

func TestPriceChangeScenario(t *testing.T) {
	history := NewPriceHistory()
	history.Set("t1", "BTC/USDT", dec("100"))
	threshold := dec("2")

	table := market.QuoteTable{}
	table.Put(last("BTC/USDT", "A", "97"))
	events := DetectPriceChanges(table, "t1", []market.Symbol{"BTC/USDT"}, threshold, history, time.Now())
	require.Len(t, events, 1)
	assert.True(t, events[0].ChangePct.Equal(dec("-3")), events[0].ChangePct.String())
	assert.True(t, events[0].PreviousPrice.Equal(dec("100")))
	assert.Equal(t, "t1", events[0].TenantID)

	history.Set("t1", "BTC/USDT", dec("100"))
	table = market.QuoteTable{}
	table.Put(last("BTC/USDT", "A", "99"))
	assert.Empty(t, DetectPriceChanges(table, "t1", []market.Symbol{"BTC/USDT"}, threshold, history, time.Now()))

	current, ok := history.Get("t1", "BTC/USDT")
	require.True(t, ok)
	assert.True(t, current.Equal(dec("99")))
}

func TestPriceChangeIsIdempotentWithoutNewQuotes(t *testing.T) {
	history := NewPriceHistory()
	history.Set("t1", "ETH/USDT", dec("100"))

	table := market.QuoteTable{}
	table.Put(last("ETH/USDT", "A", "110"))
	table.Put(last("ETH/USDT", "B", "112"))

	first := DetectPriceChanges(table, "t1", []market.Symbol{"ETH/USDT"}, dec("1"), history, time.Now())
	second := DetectPriceChanges(table, "t1", []market.Symbol{"ETH/USDT"}, dec("1"), history, time.Now())
	require.Len(t, first, 1)
	assert.True(t, first[0].CurrentPrice.Equal(dec("111")))
	assert.Empty(t, second)
}

func TestPriceChangeFirstObservationOnlySeeds(t *testing.T) {
	history := NewPriceHistory()
	table := market.QuoteTable{}
	table.Put(last("BTC/USDT", "A", "100"))

	assert.Empty(t, DetectPriceChanges(table, "t1", []market.Symbol{"BTC/USDT", "SOL/USDT"}, decimal.Zero, history, time.Now()))
	assert.Equal(t, 1, history.Len())

	_, ok := history.Get("t2", "BTC/USDT")
	assert.False(t, ok, "baselines are per tenant")

	history.Forget("t1")
	assert.Equal(t, 0, history.Len())
}

func TestTargetCrossings(t *testing.T) {
	history := NewPriceHistory()
	history.Set("t1", "BTC/USDT", dec("99"))
	history.Set("t1", "ETH/USDT", dec("50"))

	table := market.QuoteTable{}
	table.Put(last("BTC/USDT", "A", "101"))
	table.Put(last("ETH/USDT", "A", "49"))

	targets := []PriceTarget{
		{Symbol: "BTC/USDT", Level: dec("100"), Direction: DirectionAbove},
		{Symbol: "BTC/USDT", Level: dec("100"), Direction: DirectionBelow},
		{Symbol: "ETH/USDT", Level: dec("49.5"), Direction: DirectionBelow},
		{Symbol: "SOL/USDT", Level: dec("1"), Direction: DirectionAbove},
	}

	crossings := DetectTargetCrossings(table, "t1", targets, history, time.Now())
	require.Len(t, crossings, 2)
	assert.Equal(t, DirectionAbove, crossings[0].Target.Direction)
	assert.Equal(t, market.Symbol("ETH/USDT"), crossings[1].Target.Symbol)
}
