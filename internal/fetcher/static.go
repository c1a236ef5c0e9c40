package fetcher

import (
	"context"
	"sync"

	"crypto-alerts/internal/market"
)

// Static serves a fixed set of quotes. Used by simulate-alert and tests.
type Static struct {
	name string

	mu     sync.RWMutex
	quotes map[market.Symbol]market.Quote
	err    error
}

// NewStatic builds a Static source; err, when set, is returned alongside the quotes.
func NewStatic(name string, quotes map[market.Symbol]market.Quote, err error) *Static {
	return &Static{name: name, quotes: quotes, err: err}
}

// SetQuotes replaces the served quotes.
func (s *Static) SetQuotes(quotes map[market.Symbol]market.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes = quotes
}

// Name implements QuoteSource.
func (s *Static) Name() string { return s.name }

// FetchQuotes implements QuoteSource.
func (s *Static) FetchQuotes(ctx context.Context, symbols []market.Symbol) (map[market.Symbol]market.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[market.Symbol]market.Quote, len(symbols))
	for _, sym := range symbols {
		if q, ok := s.quotes[sym]; ok {
			out[sym] = q
		}
	}
	return out, s.err
}

var _ QuoteSource = (*Static)(nil)
