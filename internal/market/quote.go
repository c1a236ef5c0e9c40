package market

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one exchange's observation of one symbol. Optional fields are nil when the venue does not report them.
type Quote struct {
	Symbol       Symbol
	Exchange     string
	Price        decimal.Decimal
	Bid          *decimal.Decimal
	Ask          *decimal.Decimal
	Volume24h    *decimal.Decimal
	Change24hPct *decimal.Decimal
	ObservedAt   time.Time
}

// Valid reports whether the quote carries a usable last price.
func (q Quote) Valid() bool {
	return q.Symbol != "" && q.Exchange != "" && q.Price.IsPositive()
}

// HasBook reports whether both sides of the top of book are present and positive.
func (q Quote) HasBook() bool {
	return q.Bid != nil && q.Ask != nil && q.Bid.IsPositive() && q.Ask.IsPositive()
}

// Opt wraps a decimal for optional quote fields.
func Opt(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// QuoteTable maps symbol to exchange name to quote for one cycle.
type QuoteTable map[Symbol]map[string]Quote

// Put stores q, replacing any earlier quote for the same symbol and exchange.
func (t QuoteTable) Put(q Quote) {
	byExchange, ok := t[q.Symbol]
	if !ok {
		byExchange = make(map[string]Quote)
		t[q.Symbol] = byExchange
	}
	byExchange[q.Exchange] = q
}

// Exchanges returns the exchanges quoting symbol in name order.
func (t QuoteTable) Exchanges(symbol Symbol) []string {
	names := make([]string, 0, len(t[symbol]))
	for name := range t[symbol] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Quotes returns the quotes for symbol ordered by exchange name.
func (t QuoteTable) Quotes(symbol Symbol) []Quote {
	names := t.Exchanges(symbol)
	out := make([]Quote, 0, len(names))
	for _, name := range names {
		out = append(out, t[symbol][name])
	}
	return out
}

// Average returns the mean last price across exchanges for symbol.
func (t QuoteTable) Average(symbol Symbol) (decimal.Decimal, bool) {
	quotes := t[symbol]
	if len(quotes) == 0 {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, q := range quotes {
		sum = sum.Add(q.Price)
	}
	return sum.Div(decimal.NewFromInt(int64(len(quotes)))), true
}

// Range returns the lowest and highest last price for symbol.
func (t QuoteTable) Range(symbol Symbol) (decimal.Decimal, decimal.Decimal, bool) {
	quotes := t.Quotes(symbol)
	if len(quotes) == 0 {
		return decimal.Zero, decimal.Zero, false
	}
	low, high := quotes[0].Price, quotes[0].Price
	for _, q := range quotes[1:] {
		low = decimal.Min(low, q.Price)
		high = decimal.Max(high, q.Price)
	}
	return low, high, true
}

// Symbols lists symbols present in the table, sorted.
func (t QuoteTable) Symbols() []Symbol {
	out := make([]Symbol, 0, len(t))
	for sym := range t {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
