package fetcher

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"crypto-alerts/internal/market"
)

const kucoinBaseURL = "https://api.kucoin.com"

// KuCoin reads the all-tickers snapshot and picks the requested pairs.
type KuCoin struct {
	rest *restClient
}

// NewKuCoin constructs the KuCoin quote source.
func NewKuCoin(opts Options) *KuCoin {
	return &KuCoin{rest: newRESTClient("kucoin", kucoinBaseURL, opts)}
}

// Name implements QuoteSource.
func (k *KuCoin) Name() string { return "kucoin" }

// FetchQuotes implements QuoteSource.
func (k *KuCoin) FetchQuotes(ctx context.Context, symbols []market.Symbol) (map[market.Symbol]market.Quote, error) {
	payload, err := k.rest.get(ctx, "/api/v1/market/allTickers", nil)
	if err != nil {
		return nil, fmt.Errorf("kucoin all tickers: %w", err)
	}
	if code := gjson.GetBytes(payload, "code").String(); code != "" && code != "200000" {
		return nil, fmt.Errorf("kucoin api error (%s): %s", code, gjson.GetBytes(payload, "msg").String())
	}
	return parseKuCoinTickers(payload, symbols), nil
}

func parseKuCoinTickers(payload []byte, symbols []market.Symbol) map[market.Symbol]market.Quote {
	index := make(map[string]market.Symbol, len(symbols))
	for _, sym := range symbols {
		index[sym.Join("-")] = sym
	}

	out := make(map[market.Symbol]market.Quote, len(symbols))
	gjson.GetBytes(payload, "data.ticker").ForEach(func(_, item gjson.Result) bool {
		sym, ok := index[item.Get("symbol").String()]
		if !ok {
			return true
		}
		price, ok := decimalField(item.Get("last"))
		if !ok {
			return true
		}
		out[sym] = market.Quote{
			Symbol:       sym,
			Price:        price,
			Bid:          optionalField(item.Get("buy")),
			Ask:          optionalField(item.Get("sell")),
			Volume24h:    optionalField(item.Get("volValue")),
			Change24hPct: ratioToPct(item.Get("changeRate")),
		}
		return true
	})
	return out
}

var _ QuoteSource = (*KuCoin)(nil)
