package market

import (
	"fmt"
	"strings"
)

// Symbol is a canonical trading pair such as BTC/USDT.
type Symbol string

// ParseSymbol normalises user input ("btc/usdt", "BTC-USDT") into a Symbol.
func ParseSymbol(raw string) (Symbol, error) {
	cleaned := strings.ToUpper(strings.TrimSpace(raw))
	cleaned = strings.ReplaceAll(cleaned, "-", "/")
	cleaned = strings.ReplaceAll(cleaned, "_", "/")
	parts := strings.Split(cleaned, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("invalid symbol %q: expected BASE/QUOTE", raw)
	}
	return Symbol(parts[0] + "/" + parts[1]), nil
}

// Base returns the asset being priced.
func (s Symbol) Base() string {
	base, _, _ := strings.Cut(string(s), "/")
	return base
}

// Quote returns the pricing currency.
func (s Symbol) Quote() string {
	_, quote, _ := strings.Cut(string(s), "/")
	return quote
}

// Join spells the pair with an exchange-specific separator.
func (s Symbol) Join(sep string) string {
	return s.Base() + sep + s.Quote()
}

func (s Symbol) String() string {
	return string(s)
}

// ParseSymbols converts a list of raw symbols, rejecting the first invalid entry.
func ParseSymbols(raw []string) ([]Symbol, error) {
	out := make([]Symbol, 0, len(raw))
	for _, r := range raw {
		sym, err := ParseSymbol(r)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, nil
}
