package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"crypto-alerts/internal/market"
)

const coinbaseBaseURL = "https://api.exchange.coinbase.com"

// Coinbase reads per-product tickers from the Coinbase Exchange REST API.
type Coinbase struct {
	rest *restClient
}

// NewCoinbase constructs the Coinbase quote source.
func NewCoinbase(opts Options) *Coinbase {
	return &Coinbase{rest: newRESTClient("coinbase", coinbaseBaseURL, opts)}
}

// Name implements QuoteSource.
func (c *Coinbase) Name() string { return "coinbase" }

// FetchQuotes issues one throttled request per product.
func (c *Coinbase) FetchQuotes(ctx context.Context, symbols []market.Symbol) (map[market.Symbol]market.Quote, error) {
	out := make(map[market.Symbol]market.Quote, len(symbols))
	var errs []error
	for _, sym := range symbols {
		product := coinbaseProduct(sym)
		payload, err := c.rest.get(ctx, "/products/"+url.PathEscape(product)+"/ticker", nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("coinbase ticker %s: %w", product, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if q, ok := parseCoinbaseTicker(payload, sym); ok {
			out[sym] = q
		}
	}
	return out, errors.Join(errs...)
}

// coinbaseProduct maps USDT quotes onto the USD books Coinbase actually lists.
func coinbaseProduct(sym market.Symbol) string {
	quote := sym.Quote()
	if quote == "USDT" {
		quote = "USD"
	}
	return sym.Base() + "-" + quote
}

func parseCoinbaseTicker(payload []byte, sym market.Symbol) (market.Quote, bool) {
	doc := gjson.ParseBytes(payload)
	price, ok := decimalField(doc.Get("price"))
	if !ok {
		return market.Quote{}, false
	}
	q := market.Quote{
		Symbol:    sym,
		Price:     price,
		Bid:       optionalField(doc.Get("bid")),
		Ask:       optionalField(doc.Get("ask")),
		Volume24h: optionalField(doc.Get("volume")),
	}
	if ts, err := time.Parse(time.RFC3339Nano, doc.Get("time").String()); err == nil {
		q.ObservedAt = ts.UTC()
	}
	return q, true
}

var _ QuoteSource = (*Coinbase)(nil)
