package cli

import (
	"github.com/spf13/cobra"

	"crypto-alerts/internal/app"
)

var (
	marketSymbols []string
	arbitrageMin  string
	alertsTenant  string
	alertsLimit   int
)

var pricesCmd = &cobra.Command{
	Use:   "prices",
	Short: "Fetch live quotes from every enabled exchange",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Prices(cmd.Context(), app.ShowOptions{Symbols: marketSymbols})
	},
}

var arbitrageCmd = &cobra.Command{
	Use:   "arbitrage",
	Short: "List current cross-exchange arbitrage opportunities",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Arbitrage(cmd.Context(), app.ShowOptions{Symbols: marketSymbols, MinPct: arbitrageMin})
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show recently archived alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Alerts(cmd.Context(), app.ShowOptions{TenantID: alertsTenant, Limit: alertsLimit})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{pricesCmd, arbitrageCmd} {
		cmd.Flags().StringSliceVar(&marketSymbols, "symbols", nil, "Symbols to query, e.g. BTC/USDT,ETH/USDT (defaults to the tenants' symbols)")
	}
	arbitrageCmd.Flags().StringVar(&arbitrageMin, "min-pct", "0.5", "Minimum profit percentage")
	alertsCmd.Flags().StringVar(&alertsTenant, "tenant", "", "Only show alerts of this tenant id")
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 20, "Number of alerts to display")
}
