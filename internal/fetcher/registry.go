package fetcher

import (
	"fmt"
	"sort"
	"strings"
)

var constructors = map[string]func(Options) QuoteSource{
	"binance":  func(o Options) QuoteSource { return NewBinance(o) },
	"bybit":    func(o Options) QuoteSource { return NewBybit(o) },
	"coinbase": func(o Options) QuoteSource { return NewCoinbase(o) },
	"kraken":   func(o Options) QuoteSource { return NewKraken(o) },
	"kucoin":   func(o Options) QuoteSource { return NewKuCoin(o) },
}

// New builds the quote source registered under name.
func New(name string, opts Options) (QuoteSource, error) {
	ctor, ok := constructors[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown exchange %q (supported: %s)", name, strings.Join(Supported(), ", "))
	}
	return ctor(opts), nil
}

// Supported lists exchange names known to New.
func Supported() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
