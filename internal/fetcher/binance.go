package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"crypto-alerts/internal/market"
)

const binanceBaseURL = "https://api.binance.com"

// Binance reads 24h ticker statistics through the go-binance client.
type Binance struct {
	client  *binance.Client
	limiter *rate.Limiter
}

// NewBinance constructs the Binance quote source.
func NewBinance(opts Options) *Binance {
	client := binance.NewClient("", "")
	client.BaseURL = opts.baseURL(binanceBaseURL)
	client.HTTPClient = opts.httpClient()
	if ua := strings.TrimSpace(opts.UserAgent); ua != "" {
		client.UserAgent = ua
	}
	return &Binance{client: client, limiter: opts.limiter()}
}

// Name implements QuoteSource.
func (b *Binance) Name() string { return "binance" }

// FetchQuotes requests all symbols in one call and falls back to per-symbol calls when the batch is rejected.
func (b *Binance) FetchQuotes(ctx context.Context, symbols []market.Symbol) (map[market.Symbol]market.Quote, error) {
	index := make(map[string]market.Symbol, len(symbols))
	names := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		name := sym.Join("")
		index[name] = sym
		names = append(names, name)
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	stats, err := b.client.NewListPriceChangeStatsService().Symbols(names).Do(ctx)
	if err == nil {
		return binanceQuotes(stats, index), nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("binance ticker batch: %w", err)
	}

	// an unknown pair rejects the whole batch
	out := make(map[market.Symbol]market.Quote, len(names))
	var errs []error
	for _, name := range names {
		if err := b.limiter.Wait(ctx); err != nil {
			errs = append(errs, err)
			break
		}
		single, err := b.client.NewListPriceChangeStatsService().Symbol(name).Do(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("binance ticker %s: %w", name, err))
			continue
		}
		for sym, q := range binanceQuotes(single, index) {
			out[sym] = q
		}
	}
	return out, errors.Join(errs...)
}

func binanceQuotes(stats []*binance.PriceChangeStats, index map[string]market.Symbol) map[market.Symbol]market.Quote {
	out := make(map[market.Symbol]market.Quote, len(stats))
	for _, st := range stats {
		if st == nil {
			continue
		}
		sym, ok := index[st.Symbol]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(st.LastPrice)
		if err != nil {
			continue
		}
		q := market.Quote{
			Symbol:       sym,
			Price:        price,
			Bid:          parseOptional(st.BidPrice),
			Ask:          parseOptional(st.AskPrice),
			Volume24h:    parseOptional(st.Volume),
			Change24hPct: parseOptional(st.PriceChangePercent),
		}
		if st.CloseTime > 0 {
			q.ObservedAt = time.UnixMilli(st.CloseTime).UTC()
		}
		out[sym] = q
	}
	return out
}

func parseOptional(raw string) *decimal.Decimal {
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	return &d
}

var _ QuoteSource = (*Binance)(nil)
