package fetcher

import (
	"context"
	"encoding/json"
	"fmt"

	bybit "github.com/bybit-exchange/bybit.go.api"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"crypto-alerts/internal/market"
)

const bybitBaseURL = "https://api.bybit.com"

// Bybit reads v5 spot tickers through the official connector.
type Bybit struct {
	client  *bybit.Client
	limiter *rate.Limiter
}

// NewBybit constructs the Bybit quote source.
func NewBybit(opts Options) *Bybit {
	client := bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(opts.baseURL(bybitBaseURL)))
	client.HTTPClient = opts.httpClient()
	return &Bybit{client: client, limiter: opts.limiter()}
}

// Name implements QuoteSource.
func (b *Bybit) Name() string { return "bybit" }

// FetchQuotes pulls the full spot ticker list once and picks the requested pairs.
func (b *Bybit) FetchQuotes(ctx context.Context, symbols []market.Symbol) (map[market.Symbol]market.Quote, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := map[string]interface{}{"category": "spot"}
	resp, err := b.client.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("bybit tickers: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("bybit tickers: empty response")
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("bybit api error (%d): %s", resp.RetCode, resp.RetMsg)
	}

	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("marshal bybit result: %w", err)
	}
	return parseBybitTickers(payload, symbols), nil
}

func parseBybitTickers(payload []byte, symbols []market.Symbol) map[market.Symbol]market.Quote {
	index := make(map[string]market.Symbol, len(symbols))
	for _, sym := range symbols {
		index[sym.Join("")] = sym
	}

	out := make(map[market.Symbol]market.Quote, len(symbols))
	gjson.GetBytes(payload, "list").ForEach(func(_, item gjson.Result) bool {
		sym, ok := index[item.Get("symbol").String()]
		if !ok {
			return true
		}
		price, ok := decimalField(item.Get("lastPrice"))
		if !ok {
			return true
		}
		out[sym] = market.Quote{
			Symbol:       sym,
			Price:        price,
			Bid:          optionalField(item.Get("bid1Price")),
			Ask:          optionalField(item.Get("ask1Price")),
			Volume24h:    optionalField(item.Get("volume24h")),
			Change24hPct: ratioToPct(item.Get("price24hPcnt")),
		}
		return true
	})
	return out
}

var _ QuoteSource = (*Bybit)(nil)
