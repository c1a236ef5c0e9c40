package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"crypto-alerts/internal/market"
)

// PriceSample is the persisted per-cycle summary of one symbol across exchanges.
type PriceSample struct {
	Bucket    time.Time
	Symbol    market.Symbol
	AvgPrice  decimal.Decimal
	MinPrice  decimal.Decimal
	MaxPrice  decimal.Decimal
	SpreadPct decimal.Decimal
	Exchanges []string
	CreatedAt time.Time
}

// SamplesFromTable summarises a quote table into one sample per symbol.
func SamplesFromTable(bucket time.Time, table market.QuoteTable) []PriceSample {
	samples := make([]PriceSample, 0, len(table))
	for _, sym := range table.Symbols() {
		avg, ok := table.Average(sym)
		if !ok {
			continue
		}
		low, high, _ := table.Range(sym)
		spread := decimal.Zero
		if low.IsPositive() {
			spread = high.Sub(low).Div(low).Mul(decimal.NewFromInt(100))
		}
		samples = append(samples, PriceSample{
			Bucket:    bucket,
			Symbol:    sym,
			AvgPrice:  avg,
			MinPrice:  low,
			MaxPrice:  high,
			SpreadPct: spread,
			Exchanges: table.Exchanges(sym),
		})
	}
	return samples
}
