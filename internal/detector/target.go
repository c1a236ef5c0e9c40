package detector

import (
	"time"

	"github.com/shopspring/decimal"

	"crypto-alerts/internal/market"
)

// Direction of a price target.
const (
	DirectionAbove = "above"
	DirectionBelow = "below"
)

// PriceTarget is a user-defined level on one symbol.
type PriceTarget struct {
	Symbol    market.Symbol   `json:"symbol"`
	Level     decimal.Decimal `json:"level"`
	Direction string          `json:"direction"`
}

// TargetCrossing reports that the average price moved through a target since the previous cycle.
type TargetCrossing struct {
	Target        PriceTarget
	TenantID      string
	PreviousPrice decimal.Decimal
	CurrentPrice  decimal.Decimal
	ComputedAt    time.Time
}

// DetectTargetCrossings must run before DetectPriceChanges in a cycle, since it reads the baseline that call overwrites.
func DetectTargetCrossings(table market.QuoteTable, tenantID string, targets []PriceTarget, history *PriceHistory, now time.Time) []TargetCrossing {
	out := make([]TargetCrossing, 0)
	for _, target := range targets {
		current, ok := table.Average(target.Symbol)
		if !ok {
			continue
		}
		previous, ok := history.Get(tenantID, target.Symbol)
		if !ok {
			continue
		}

		crossed := false
		switch target.Direction {
		case DirectionAbove:
			crossed = previous.LessThan(target.Level) && current.GreaterThanOrEqual(target.Level)
		case DirectionBelow:
			crossed = previous.GreaterThan(target.Level) && current.LessThanOrEqual(target.Level)
		}
		if !crossed {
			continue
		}
		out = append(out, TargetCrossing{
			Target:        target,
			TenantID:      tenantID,
			PreviousPrice: previous,
			CurrentPrice:  current,
			ComputedAt:    now,
		})
	}
	return out
}
