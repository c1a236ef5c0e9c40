package detector

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"crypto-alerts/internal/market"
)

// PriceChangeEvent reports a move of at least the tenant threshold since the previous cycle.
type PriceChangeEvent struct {
	Symbol        market.Symbol
	TenantID      string
	PreviousPrice decimal.Decimal
	CurrentPrice  decimal.Decimal
	ChangePct     decimal.Decimal
	ComputedAt    time.Time
}

type historyKey struct {
	tenant string
	symbol market.Symbol
}

// PriceHistory holds the last observed average price per tenant and symbol.
type PriceHistory struct {
	mu     sync.Mutex
	prices map[historyKey]decimal.Decimal
}

// NewPriceHistory returns an empty history.
func NewPriceHistory() *PriceHistory {
	return &PriceHistory{prices: make(map[historyKey]decimal.Decimal)}
}

// Get returns the baseline for tenant and symbol.
func (h *PriceHistory) Get(tenantID string, symbol market.Symbol) (decimal.Decimal, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	price, ok := h.prices[historyKey{tenantID, symbol}]
	return price, ok
}

// Set overwrites the baseline for tenant and symbol.
func (h *PriceHistory) Set(tenantID string, symbol market.Symbol, price decimal.Decimal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prices[historyKey{tenantID, symbol}] = price
}

// Forget drops every baseline held for tenant.
func (h *PriceHistory) Forget(tenantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key := range h.prices {
		if key.tenant == tenantID {
			delete(h.prices, key)
		}
	}
}

// Len reports the number of tracked baselines.
func (h *PriceHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.prices)
}

// DetectPriceChanges compares each symbol's cross-exchange average with the stored baseline and
// emits an event when |change| >= thresholdPct. The baseline is overwritten for every quoted symbol.
func DetectPriceChanges(table market.QuoteTable, tenantID string, symbols []market.Symbol, thresholdPct decimal.Decimal, history *PriceHistory, now time.Time) []PriceChangeEvent {
	history.mu.Lock()
	defer history.mu.Unlock()

	events := make([]PriceChangeEvent, 0)
	for _, sym := range symbols {
		current, ok := table.Average(sym)
		if !ok {
			continue
		}
		key := historyKey{tenantID, sym}
		previous, seen := history.prices[key]
		history.prices[key] = current

		if !seen || previous.IsZero() {
			continue
		}
		change := current.Sub(previous).Div(previous).Mul(hundred)
		if change.Abs().LessThan(thresholdPct) {
			continue
		}
		events = append(events, PriceChangeEvent{
			Symbol:        sym,
			TenantID:      tenantID,
			PreviousPrice: previous,
			CurrentPrice:  current,
			ChangePct:     change,
			ComputedAt:    now,
		})
	}
	return events
}
