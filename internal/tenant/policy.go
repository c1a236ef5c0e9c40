package tenant

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crypto-alerts/internal/market"
)

// Tier is a subscription level.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Tiers lists every tier from lowest to highest.
var Tiers = []Tier{TierFree, TierBasic, TierPro, TierEnterprise}

// ParseTier accepts a case-insensitive tier name.
func ParseTier(raw string) (Tier, error) {
	tier := Tier(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := policies[tier]; !ok {
		return "", fmt.Errorf("unknown tier %q", raw)
	}
	return tier, nil
}

// Paid reports whether the tier is billed.
func (t Tier) Paid() bool {
	return t != TierFree
}

// Features are the tier-gated detectors.
type Features struct {
	Arbitrage bool `json:"arbitrage"`
	Whale     bool `json:"whale"`
}

// Policy is the immutable default bundle of a tier.
type Policy struct {
	Tier                    Tier
	Symbols                 []market.Symbol
	MaxSymbols              int
	ArbitrageThresholdPct   decimal.Decimal
	PriceChangeThresholdPct decimal.Decimal
	WhaleThresholdUSD       decimal.Decimal
	PollInterval            time.Duration
	Features                Features
	MonthlyPriceUSD         decimal.Decimal
}

var (
	freeSymbols  = []market.Symbol{"BTC/USDT", "ETH/USDT"}
	basicSymbols = append(append([]market.Symbol{}, freeSymbols...), "SOL/USDT", "ADA/USDT", "DOT/USDT")
	proSymbols   = append(append([]market.Symbol{}, basicSymbols...), "AVAX/USDT", "MATIC/USDT", "LINK/USDT")
)

var policies = map[Tier]Policy{
	TierFree: {
		Tier:                    TierFree,
		Symbols:                 freeSymbols,
		MaxSymbols:              2,
		ArbitrageThresholdPct:   decimal.RequireFromString("0.5"),
		PriceChangeThresholdPct: decimal.RequireFromString("5.0"),
		WhaleThresholdUSD:       decimal.NewFromInt(10_000_000),
		PollInterval:            300 * time.Second,
		MonthlyPriceUSD:         decimal.Zero,
	},
	TierBasic: {
		Tier:                    TierBasic,
		Symbols:                 basicSymbols,
		MaxSymbols:              5,
		ArbitrageThresholdPct:   decimal.RequireFromString("0.5"),
		PriceChangeThresholdPct: decimal.RequireFromString("3.0"),
		WhaleThresholdUSD:       decimal.NewFromInt(5_000_000),
		PollInterval:            60 * time.Second,
		Features:                Features{Arbitrage: true},
		MonthlyPriceUSD:         decimal.NewFromInt(9),
	},
	TierPro: {
		Tier:                    TierPro,
		Symbols:                 proSymbols,
		MaxSymbols:              10,
		ArbitrageThresholdPct:   decimal.RequireFromString("0.3"),
		PriceChangeThresholdPct: decimal.RequireFromString("2.0"),
		WhaleThresholdUSD:       decimal.NewFromInt(1_000_000),
		PollInterval:            30 * time.Second,
		Features:                Features{Arbitrage: true, Whale: true},
		MonthlyPriceUSD:         decimal.NewFromInt(29),
	},
	TierEnterprise: {
		Tier:                    TierEnterprise,
		Symbols:                 proSymbols,
		MaxSymbols:              0,
		ArbitrageThresholdPct:   decimal.RequireFromString("0.1"),
		PriceChangeThresholdPct: decimal.RequireFromString("1.0"),
		WhaleThresholdUSD:       decimal.NewFromInt(500_000),
		PollInterval:            10 * time.Second,
		Features:                Features{Arbitrage: true, Whale: true},
		MonthlyPriceUSD:         decimal.NewFromInt(99),
	},
}

// PolicyFor returns a copy of the tier defaults; unknown tiers resolve to free.
func PolicyFor(tier Tier) Policy {
	p, ok := policies[tier]
	if !ok {
		p = policies[TierFree]
	}
	p.Symbols = append([]market.Symbol(nil), p.Symbols...)
	return p
}

// DefaultSettings seeds a tenant's mutable settings from the tier.
func DefaultSettings(tier Tier) Settings {
	p := PolicyFor(tier)
	return Settings{
		Symbols:                 p.Symbols,
		ArbitrageThresholdPct:   p.ArbitrageThresholdPct,
		PriceChangeThresholdPct: p.PriceChangeThresholdPct,
		WhaleThresholdUSD:       p.WhaleThresholdUSD,
		PollIntervalSeconds:     int(p.PollInterval / time.Second),
		AlertsEnabled:           true,
	}
}

// ApplyTier moves t onto tier and resets thresholds, symbols and cadence to the tier defaults.
// Delivery settings and price targets are kept.
func ApplyTier(t *Tenant, tier Tier) {
	defaults := DefaultSettings(tier)
	defaults.Targets = t.Settings.Targets
	defaults.DiscordWebhook = t.Settings.DiscordWebhook
	defaults.AlertsEnabled = t.Settings.AlertsEnabled || t.Settings.isZero()
	t.Tier = tier
	t.Settings = defaults
}
