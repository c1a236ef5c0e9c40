package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"crypto-alerts/internal/fetcher"
	"crypto-alerts/internal/market"
)

// Options tune the fan-out.
type Options struct {
	// MaxConcurrency caps simultaneous adapter calls; zero means one goroutine per adapter.
	MaxConcurrency int
	// AdapterTimeout bounds each adapter call independently of the others.
	AdapterTimeout time.Duration
}

// Aggregator merges quotes from every adapter into a per-cycle QuoteTable.
type Aggregator struct {
	adapters []fetcher.Adapter
	opts     Options
	logger   zerolog.Logger
}

// New constructs an Aggregator over adapters.
func New(adapters []fetcher.Adapter, opts Options, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		adapters: adapters,
		opts:     opts,
		logger:   logger.With().Str("component", "aggregator").Logger(),
	}
}

// Adapters returns the exchange names in configuration order.
func (a *Aggregator) Adapters() []string {
	return lo.Map(a.adapters, func(ad fetcher.Adapter, _ int) string { return ad.Name() })
}

// FetchAll queries every adapter once for symbols. It is safe to call concurrently and outside the scheduled cycle.
// Symbols no exchange could quote are absent from the result.
func (a *Aggregator) FetchAll(ctx context.Context, symbols []market.Symbol) market.QuoteTable {
	table := market.QuoteTable{}
	symbols = lo.Uniq(symbols)
	if len(symbols) == 0 || len(a.adapters) == 0 {
		return table
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if a.opts.MaxConcurrency > 0 {
		g.SetLimit(a.opts.MaxConcurrency)
	}

	start := time.Now()
	for _, adapter := range a.adapters {
		adapter := adapter
		g.Go(func() error {
			callCtx := gctx
			if a.opts.AdapterTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(gctx, a.opts.AdapterTimeout)
				defer cancel()
			}

			quotes := adapter.Fetch(callCtx, symbols)

			mu.Lock()
			defer mu.Unlock()
			for _, q := range quotes {
				table.Put(q)
			}
			return nil
		})
	}
	// adapters never return errors, Wait only joins
	_ = g.Wait()

	a.logger.Debug().
		Int("symbols", len(symbols)).
		Int("quoted", len(table)).
		Dur("elapsed", time.Since(start)).
		Msg("quote table assembled")
	return table
}
