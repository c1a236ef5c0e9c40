package detector

import (
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"crypto-alerts/internal/market"
)

var hundred = decimal.NewFromInt(100)

// Opportunity is a cross-exchange spread: buy at the lowest ask, sell into the highest bid.
type Opportunity struct {
	Symbol       market.Symbol
	BuyExchange  string
	BuyPrice     decimal.Decimal
	SellExchange string
	SellPrice    decimal.Decimal
	ProfitPct    decimal.Decimal
	ProfitAbs    decimal.Decimal
	ComputedAt   time.Time
}

// DetectArbitrage returns opportunities with ProfitPct >= minProfitPct, highest profit first.
// Equal profits keep the order of symbols. A venue is never paired with itself.
func DetectArbitrage(table market.QuoteTable, symbols []market.Symbol, minProfitPct decimal.Decimal, now time.Time) []Opportunity {
	out := make([]Opportunity, 0)
	for _, sym := range lo.Uniq(symbols) {
		opp, ok := bestSpread(sym, table.Quotes(sym))
		if !ok || opp.ProfitPct.LessThan(minProfitPct) {
			continue
		}
		opp.ComputedAt = now
		out = append(out, opp)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ProfitPct.GreaterThan(out[j].ProfitPct)
	})
	return out
}

func bestSpread(sym market.Symbol, quotes []market.Quote) (Opportunity, bool) {
	book := lo.Filter(quotes, func(q market.Quote, _ int) bool { return q.HasBook() })
	if len(book) < 2 {
		return Opportunity{}, false
	}

	// quotes arrive ordered by exchange name, so stable sorts keep ties deterministic
	bids := append([]market.Quote(nil), book...)
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].Bid.GreaterThan(*bids[j].Bid) })
	asks := append([]market.Quote(nil), book...)
	sort.SliceStable(asks, func(i, j int) bool { return asks[i].Ask.LessThan(*asks[j].Ask) })

	if bids[0].Exchange != asks[0].Exchange {
		return spread(sym, asks[0], bids[0])
	}

	// best bid and best ask on one venue: take the better of the two cross-venue runners-up
	first, okFirst := spread(sym, asks[1], bids[0])
	second, okSecond := spread(sym, asks[0], bids[1])
	switch {
	case okFirst && okSecond:
		if second.ProfitPct.GreaterThan(first.ProfitPct) {
			return second, true
		}
		return first, true
	case okFirst:
		return first, true
	default:
		return second, okSecond
	}
}

func spread(sym market.Symbol, buy, sell market.Quote) (Opportunity, bool) {
	if buy.Exchange == sell.Exchange {
		return Opportunity{}, false
	}
	ask, bid := *buy.Ask, *sell.Bid
	if !bid.GreaterThan(ask) {
		return Opportunity{}, false
	}
	profit := bid.Sub(ask)
	return Opportunity{
		Symbol:       sym,
		BuyExchange:  buy.Exchange,
		BuyPrice:     ask,
		SellExchange: sell.Exchange,
		SellPrice:    bid,
		ProfitPct:    profit.Div(ask).Mul(hundred),
		ProfitAbs:    profit,
	}, true
}
