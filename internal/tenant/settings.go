package tenant

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"crypto-alerts/internal/detector"
	"crypto-alerts/internal/market"
)

// ErrInvalidSettings marks a rejected settings update.
var ErrInvalidSettings = errors.New("invalid settings")

const maxPollInterval = time.Hour

// Settings are a tenant's active, individually overridable parameters.
type Settings struct {
	Symbols                 []market.Symbol        `json:"symbols"`
	ArbitrageThresholdPct   decimal.Decimal        `json:"arbitrage_threshold_pct"`
	PriceChangeThresholdPct decimal.Decimal        `json:"price_change_threshold_pct"`
	WhaleThresholdUSD       decimal.Decimal        `json:"whale_threshold_usd"`
	PollIntervalSeconds     int                    `json:"poll_interval_seconds"`
	AlertsEnabled           bool                   `json:"alerts_enabled"`
	Targets                 []detector.PriceTarget `json:"targets,omitempty"`
	DiscordWebhook          string                 `json:"discord_webhook,omitempty"`
}

// PollInterval returns the cadence as a duration.
func (s Settings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

func (s Settings) isZero() bool {
	return len(s.Symbols) == 0 && s.PollIntervalSeconds == 0
}

func (s Settings) clone() Settings {
	s.Symbols = append([]market.Symbol(nil), s.Symbols...)
	s.Targets = append([]detector.PriceTarget(nil), s.Targets...)
	return s
}

// SettingsUpdate is a partial update; nil fields are left unchanged. Numeric fields arrive as user text.
type SettingsUpdate struct {
	Symbols                 *[]string
	ArbitrageThresholdPct   *string
	PriceChangeThresholdPct *string
	WhaleThresholdUSD       *string
	PollIntervalSeconds     *int
	AlertsEnabled           *bool
	Targets                 *[]detector.PriceTarget
	DiscordWebhook          *string
}

// Apply validates every field and returns the merged settings. current is never modified.
func (u SettingsUpdate) Apply(current Settings, policy Policy) (Settings, error) {
	next := current.clone()

	if u.Symbols != nil {
		symbols, err := market.ParseSymbols(*u.Symbols)
		if err != nil {
			return current, invalid("symbols", err.Error())
		}
		symbols = lo.Uniq(symbols)
		if len(symbols) == 0 {
			return current, invalid("symbols", "at least one symbol is required")
		}
		if policy.MaxSymbols > 0 && len(symbols) > policy.MaxSymbols {
			return current, invalid("symbols", fmt.Sprintf("tier %s allows at most %d symbols", policy.Tier, policy.MaxSymbols))
		}
		next.Symbols = symbols
	}

	if u.ArbitrageThresholdPct != nil {
		v, err := parsePercent(*u.ArbitrageThresholdPct)
		if err != nil {
			return current, invalid("arbitrage_threshold_pct", err.Error())
		}
		next.ArbitrageThresholdPct = v
	}

	if u.PriceChangeThresholdPct != nil {
		v, err := parsePercent(*u.PriceChangeThresholdPct)
		if err != nil {
			return current, invalid("price_change_threshold_pct", err.Error())
		}
		next.PriceChangeThresholdPct = v
	}

	if u.WhaleThresholdUSD != nil {
		v, err := decimal.NewFromString(*u.WhaleThresholdUSD)
		if err != nil {
			return current, invalid("whale_threshold_usd", "not a number")
		}
		if !v.IsPositive() {
			return current, invalid("whale_threshold_usd", "must be greater than zero")
		}
		next.WhaleThresholdUSD = v
	}

	if u.PollIntervalSeconds != nil {
		interval := time.Duration(*u.PollIntervalSeconds) * time.Second
		if interval < policy.PollInterval {
			return current, invalid("poll_interval_seconds", fmt.Sprintf("tier %s polls at most every %s", policy.Tier, policy.PollInterval))
		}
		if interval > maxPollInterval {
			return current, invalid("poll_interval_seconds", "must not exceed one hour")
		}
		next.PollIntervalSeconds = *u.PollIntervalSeconds
	}

	if u.AlertsEnabled != nil {
		next.AlertsEnabled = *u.AlertsEnabled
	}

	if u.Targets != nil {
		targets := make([]detector.PriceTarget, 0, len(*u.Targets))
		for _, target := range *u.Targets {
			sym, err := market.ParseSymbol(string(target.Symbol))
			if err != nil {
				return current, invalid("targets", err.Error())
			}
			if !target.Level.IsPositive() {
				return current, invalid("targets", "level must be greater than zero")
			}
			if target.Direction != detector.DirectionAbove && target.Direction != detector.DirectionBelow {
				return current, invalid("targets", fmt.Sprintf("direction must be %q or %q", detector.DirectionAbove, detector.DirectionBelow))
			}
			target.Symbol = sym
			targets = append(targets, target)
		}
		next.Targets = targets
	}

	if u.DiscordWebhook != nil {
		hook := *u.DiscordWebhook
		if hook != "" {
			parsed, err := url.Parse(hook)
			if err != nil || parsed.Scheme != "https" || parsed.Host == "" {
				return current, invalid("discord_webhook", "must be an https url")
			}
		}
		next.DiscordWebhook = hook
	}

	return next, nil
}

func parsePercent(raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.New("not a number")
	}
	if !v.IsPositive() || v.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Zero, errors.New("must be between 0 and 100")
	}
	return v, nil
}

func invalid(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidSettings, field, reason)
}
