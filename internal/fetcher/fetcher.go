package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"crypto-alerts/internal/market"
	"crypto-alerts/internal/metrics"
)

// QuoteSource is a raw exchange client. It may fail, and may return a partial result together with an error.
type QuoteSource interface {
	Name() string
	FetchQuotes(ctx context.Context, symbols []market.Symbol) (map[market.Symbol]market.Quote, error)
}

// Adapter returns canonical quotes for the requested symbols and never fails past its boundary.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, symbols []market.Symbol) map[market.Symbol]market.Quote
}

// Guarded turns a QuoteSource into an Adapter: it bounds the call with a timeout,
// recovers panics, drops malformed quotes and logs failures.
type Guarded struct {
	source  QuoteSource
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

// Guard wraps source with the adapter contract.
func Guard(source QuoteSource, timeout time.Duration, logger zerolog.Logger) *Guarded {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Guarded{
		source:  source,
		timeout: timeout,
		logger:  logger.With().Str("component", "exchange_adapter").Str("exchange", source.Name()).Logger(),
		now:     time.Now,
	}
}

// Name returns the exchange name.
func (g *Guarded) Name() string {
	return g.source.Name()
}

// Fetch retrieves quotes, returning whatever subset succeeded.
func (g *Guarded) Fetch(ctx context.Context, symbols []market.Symbol) (out map[market.Symbol]market.Quote) {
	out = make(map[market.Symbol]market.Quote)
	if len(symbols) == 0 {
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error().Str("panic", fmt.Sprint(r)).Msg("exchange adapter panicked")
			metrics.RecordAdapterFailure(g.Name(), "panic")
			out = make(map[market.Symbol]market.Quote)
		}
	}()

	quotes, err := g.source.FetchQuotes(ctx, symbols)
	if err != nil {
		reason := "error"
		if ctx.Err() != nil {
			reason = "timeout"
		}
		g.logger.Warn().Err(err).Int("partial", len(quotes)).Msg("exchange fetch failed")
		metrics.RecordAdapterFailure(g.Name(), reason)
	}

	wanted := make(map[market.Symbol]struct{}, len(symbols))
	for _, sym := range symbols {
		wanted[sym] = struct{}{}
	}

	now := g.now().UTC()
	for sym, q := range quotes {
		if _, ok := wanted[sym]; !ok {
			continue
		}
		q.Symbol = sym
		q.Exchange = g.Name()
		if !q.Valid() {
			g.logger.Debug().Str("symbol", sym.String()).Msg("dropping quote without a positive price")
			continue
		}
		if q.ObservedAt.IsZero() {
			q.ObservedAt = now
		}
		out[sym] = q
	}

	metrics.RecordAdapterQuotes(g.Name(), len(out))
	g.logger.Debug().Int("requested", len(symbols)).Int("returned", len(out)).Msg("exchange fetch complete")
	return out
}

var _ Adapter = (*Guarded)(nil)
