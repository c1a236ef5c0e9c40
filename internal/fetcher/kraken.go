package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"

	"crypto-alerts/internal/market"
)

const krakenBaseURL = "https://api.kraken.com"

// Kraken reads public tickers; Kraken renames pairs in its response (BTC becomes XBT), so one pair is requested per call.
type Kraken struct {
	rest *restClient
}

// NewKraken constructs the Kraken quote source.
func NewKraken(opts Options) *Kraken {
	return &Kraken{rest: newRESTClient("kraken", krakenBaseURL, opts)}
}

// Name implements QuoteSource.
func (k *Kraken) Name() string { return "kraken" }

// FetchQuotes implements QuoteSource.
func (k *Kraken) FetchQuotes(ctx context.Context, symbols []market.Symbol) (map[market.Symbol]market.Quote, error) {
	out := make(map[market.Symbol]market.Quote, len(symbols))
	var errs []error
	for _, sym := range symbols {
		pair := sym.Join("")
		payload, err := k.rest.get(ctx, "/0/public/Ticker", url.Values{"pair": []string{pair}})
		if err != nil {
			errs = append(errs, fmt.Errorf("kraken ticker %s: %w", pair, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		q, err := parseKrakenTicker(payload, sym)
		if err != nil {
			errs = append(errs, fmt.Errorf("kraken ticker %s: %w", pair, err))
			continue
		}
		out[sym] = q
	}
	return out, errors.Join(errs...)
}

func parseKrakenTicker(payload []byte, sym market.Symbol) (market.Quote, error) {
	doc := gjson.ParseBytes(payload)
	if apiErrs := doc.Get("error").Array(); len(apiErrs) > 0 {
		return market.Quote{}, fmt.Errorf("api error: %s", apiErrs[0].String())
	}

	var entry gjson.Result
	doc.Get("result").ForEach(func(_, v gjson.Result) bool {
		entry = v
		return false
	})
	if !entry.Exists() {
		return market.Quote{}, errors.New("empty result")
	}

	price, ok := decimalField(entry.Get("c.0"))
	if !ok {
		return market.Quote{}, errors.New("missing last trade price")
	}
	return market.Quote{
		Symbol:    sym,
		Price:     price,
		Bid:       optionalField(entry.Get("b.0")),
		Ask:       optionalField(entry.Get("a.0")),
		Volume24h: optionalField(entry.Get("v.1")),
	}, nil
}

var _ QuoteSource = (*Kraken)(nil)
