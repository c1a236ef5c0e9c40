package whale

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Asset is the native asset priced by the scanner.
const Asset = "ETH"

// Movement is a transfer whose USD value reached the scan threshold.
type Movement struct {
	TxHash     string
	From       string
	To         string
	Asset      string
	Amount     decimal.Decimal
	ValueUSD   decimal.Decimal
	Block      uint64
	ObservedAt time.Time
}

// Scanner turns raw transfers into priced movements.
type Scanner struct {
	source TransferSource
	logger zerolog.Logger
}

// NewScanner wraps a transfer source.
func NewScanner(source TransferSource, logger zerolog.Logger) *Scanner {
	return &Scanner{source: source, logger: logger.With().Str("component", "whale_scanner").Logger()}
}

// Scan prices recent transfers at ethUSD and keeps those worth at least minUSD.
// Partial results are returned alongside a source error.
func (s *Scanner) Scan(ctx context.Context, ethUSD, minUSD decimal.Decimal) ([]Movement, error) {
	transfers, err := s.source.RecentTransfers(ctx)
	movements := make([]Movement, 0)
	if !ethUSD.IsPositive() {
		return movements, err
	}

	for _, tr := range transfers {
		if tr.Wei == nil {
			continue
		}
		amount := decimal.NewFromBigInt(tr.Wei, -18)
		value := amount.Mul(ethUSD)
		if value.LessThan(minUSD) {
			continue
		}
		movements = append(movements, Movement{
			TxHash:     tr.TxHash,
			From:       tr.From,
			To:         tr.To,
			Asset:      Asset,
			Amount:     amount,
			ValueUSD:   value,
			Block:      tr.Block,
			ObservedAt: tr.Time,
		})
	}

	s.logger.Debug().Int("transfers", len(transfers)).Int("movements", len(movements)).Msg("whale scan complete")
	return movements, err
}

// Filter keeps movements worth at least minUSD.
func Filter(movements []Movement, minUSD decimal.Decimal) []Movement {
	out := make([]Movement, 0, len(movements))
	for _, m := range movements {
		if m.ValueUSD.GreaterThanOrEqual(minUSD) {
			out = append(out, m)
		}
	}
	return out
}
