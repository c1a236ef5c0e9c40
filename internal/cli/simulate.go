package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"crypto-alerts/internal/app"
)

var (
	simulateSymbol string
	simulateFrom   float64
	simulateTo     float64
	simulateSpread float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次行情变动并走完整告警流程",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateFrom <= 0 || simulateTo <= 0 {
			return errors.New("--from 与 --to 必须大于 0")
		}

		_, err := getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Symbol:    simulateSymbol,
			FromPrice: decimal.NewFromFloat(simulateFrom),
			ToPrice:   decimal.NewFromFloat(simulateTo),
			SpreadPct: decimal.NewFromFloat(simulateSpread),
		})
		return err
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "BTC/USDT", "Symbol to simulate")
	simulateCmd.Flags().Float64Var(&simulateFrom, "from", 0, "基线价格")
	simulateCmd.Flags().Float64Var(&simulateTo, "to", 0, "变动后的价格")
	simulateCmd.Flags().Float64Var(&simulateSpread, "spread", 1, "第二个交易所相对的价差百分比")
}
