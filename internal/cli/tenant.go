package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"crypto-alerts/internal/detector"
	"crypto-alerts/internal/market"
	"crypto-alerts/internal/tenant"
)

var (
	tenantChatID   string
	tenantTier     string
	upgradeFor     time.Duration
	setSymbols     []string
	setArbitrage   string
	setPriceChange string
	setWhaleUSD    string
	setPollSeconds int
	setAlerts      bool
	setDiscord     string
	setTargets     []string
	setClearTarget bool
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants in the configured store",
}

var tenantAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Register a tenant (idempotent on --chat-id)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().TenantAdd(cmd.Context(), args[0], tenantChatID, tenantTier)
	},
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().TenantList(cmd.Context())
	},
}

var tenantShowCmd = &cobra.Command{
	Use:   "show ID|CHAT_ID",
	Short: "Print a tenant as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().TenantShow(cmd.Context(), args[0])
	},
}

var tenantSetCmd = &cobra.Command{
	Use:   "set ID|CHAT_ID",
	Short: "Update tenant settings; only the given flags change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		update, err := settingsUpdateFromFlags(cmd)
		if err != nil {
			return err
		}
		return getApp().TenantSet(cmd.Context(), args[0], update)
	},
}

var tenantUpgradeCmd = &cobra.Command{
	Use:   "upgrade ID|CHAT_ID TIER",
	Short: "Move a tenant onto a tier and reset its settings to the tier defaults",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().TenantUpgrade(cmd.Context(), args[0], args[1], upgradeFor)
	},
}

var tenantExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Downgrade lapsed paid subscriptions to free",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().TenantExpire(cmd.Context())
	},
}

var tenantStatusCmd = &cobra.Command{
	Use:   "status ID|CHAT_ID active|suspended",
	Short: "Suspend or reactivate a tenant",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().TenantStatus(cmd.Context(), args[0], args[1])
	},
}

var tenantStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print tenant counts and monthly recurring revenue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().TenantStats(cmd.Context())
	},
}

func settingsUpdateFromFlags(cmd *cobra.Command) (tenant.SettingsUpdate, error) {
	var u tenant.SettingsUpdate
	flags := cmd.Flags()
	if flags.Changed("symbols") {
		u.Symbols = &setSymbols
	}
	if flags.Changed("arbitrage-pct") {
		u.ArbitrageThresholdPct = &setArbitrage
	}
	if flags.Changed("price-change-pct") {
		u.PriceChangeThresholdPct = &setPriceChange
	}
	if flags.Changed("whale-usd") {
		u.WhaleThresholdUSD = &setWhaleUSD
	}
	if flags.Changed("poll-seconds") {
		u.PollIntervalSeconds = &setPollSeconds
	}
	if flags.Changed("alerts") {
		u.AlertsEnabled = &setAlerts
	}
	if flags.Changed("discord-webhook") {
		u.DiscordWebhook = &setDiscord
	}
	if flags.Changed("target") || setClearTarget {
		targets := make([]detector.PriceTarget, 0, len(setTargets))
		for _, raw := range setTargets {
			target, err := parseTarget(raw)
			if err != nil {
				return u, err
			}
			targets = append(targets, target)
		}
		u.Targets = &targets
	}
	return u, nil
}

// parseTarget reads SYMBOL:above|below:LEVEL.
func parseTarget(raw string) (detector.PriceTarget, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return detector.PriceTarget{}, fmt.Errorf("invalid --target %q (want SYMBOL:above|below:LEVEL)", raw)
	}
	level, err := decimal.NewFromString(strings.TrimSpace(parts[2]))
	if err != nil {
		return detector.PriceTarget{}, fmt.Errorf("invalid --target level %q: %w", parts[2], err)
	}
	return detector.PriceTarget{
		Symbol:    market.Symbol(strings.TrimSpace(parts[0])),
		Direction: strings.ToLower(strings.TrimSpace(parts[1])),
		Level:     level,
	}, nil
}

func init() {
	tenantAddCmd.Flags().StringVar(&tenantChatID, "chat-id", "", "Telegram chat id")
	tenantAddCmd.Flags().StringVar(&tenantTier, "tier", string(tenant.TierFree), "Subscription tier (free, basic, pro, enterprise)")

	tenantUpgradeCmd.Flags().DurationVar(&upgradeFor, "duration", tenant.DefaultUpgradeDuration, "Subscription length")

	f := tenantSetCmd.Flags()
	f.StringSliceVar(&setSymbols, "symbols", nil, "Watched symbols, e.g. BTC/USDT,ETH/USDT")
	f.StringVar(&setArbitrage, "arbitrage-pct", "", "Arbitrage threshold percentage")
	f.StringVar(&setPriceChange, "price-change-pct", "", "Price change threshold percentage")
	f.StringVar(&setWhaleUSD, "whale-usd", "", "Whale movement threshold in USD")
	f.IntVar(&setPollSeconds, "poll-seconds", 0, "Poll interval in seconds")
	f.BoolVar(&setAlerts, "alerts", true, "Enable or disable alert delivery")
	f.StringVar(&setDiscord, "discord-webhook", "", "Discord webhook URL (empty clears it)")
	f.StringArrayVar(&setTargets, "target", nil, "Price target SYMBOL:above|below:LEVEL (repeatable; replaces existing targets)")
	f.BoolVar(&setClearTarget, "clear-targets", false, "Remove every price target")

	tenantCmd.AddCommand(tenantAddCmd, tenantListCmd, tenantShowCmd, tenantSetCmd, tenantUpgradeCmd, tenantExpireCmd, tenantStatusCmd, tenantStatsCmd)
}
