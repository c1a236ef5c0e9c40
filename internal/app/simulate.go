package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"crypto-alerts/internal/aggregator"
	"crypto-alerts/internal/alerting"
	"crypto-alerts/internal/fetcher"
	"crypto-alerts/internal/market"
	"crypto-alerts/internal/service"
	"crypto-alerts/internal/tenant"
)

// SimulateOptions describe a synthetic two-exchange market move.
type SimulateOptions struct {
	Symbol    string
	FromPrice decimal.Decimal
	ToPrice   decimal.Decimal
	SpreadPct decimal.Decimal
}

// SimulateAlert 用两个静态交易所模拟一次完整的告警流程：第一轮建立基线，第二轮按给定价格变动与价差触发告警。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) (int, error) {
	symbol, err := market.ParseSymbol(opts.Symbol)
	if err != nil {
		return 0, err
	}
	if !opts.FromPrice.IsPositive() || !opts.ToPrice.IsPositive() {
		return 0, errors.New("prices must be greater than zero")
	}
	if opts.SpreadPct.IsNegative() {
		return 0, errors.New("spread must not be negative")
	}

	quotesAt := func(price decimal.Decimal) map[market.Symbol]market.Quote {
		return map[market.Symbol]market.Quote{symbol: {Price: price, Bid: market.Opt(price), Ask: market.Opt(price)}}
	}
	venueA := fetcher.NewStatic("sim-a", quotesAt(opts.FromPrice), nil)
	venueB := fetcher.NewStatic("sim-b", quotesAt(opts.FromPrice), nil)
	agg := aggregator.New([]fetcher.Adapter{
		fetcher.Guard(venueA, time.Second, a.Logger),
		fetcher.Guard(venueB, time.Second, a.Logger),
	}, aggregator.Options{}, a.Logger)

	registry := tenant.NewRegistry(nil)
	t, _ := registry.Create("simulation", a.Config.Alerting.Telegram.ChatID, tenant.TierEnterprise)
	if _, err := registry.UpdateSettings(t.ID, tenant.SettingsUpdate{Symbols: &[]string{string(symbol)}}); err != nil {
		return 0, err
	}

	svcOpts := a.serviceOptions()
	svcOpts.HonorTenantCadence = false
	svcOpts.RecordSamples = false
	console := alerting.NewConsoleSink(a.Out, a.Logger)
	configured := a.sinkFactory()
	svc := service.New(svcOpts, service.Dependencies{
		Quotes:  agg,
		Tenants: registry,
		Sinks: func(t tenant.Tenant) []alerting.Sink {
			return append(configured(t), console)
		},
	}, nil, a.Logger)

	fired := 0
	svc.Observe(alerting.ObserverFunc(func(alerting.AlertRecord) { fired++ }))

	if err := svc.ProcessTick(ctx, 1, time.Now()); err != nil {
		return 0, err
	}

	hundred := decimal.NewFromInt(100)
	venueA.SetQuotes(quotesAt(opts.ToPrice))
	venueB.SetQuotes(quotesAt(opts.ToPrice.Mul(hundred.Add(opts.SpreadPct)).Div(hundred)))
	if err := svc.ProcessTick(ctx, 2, time.Now()); err != nil {
		return 0, err
	}

	a.Logger.Info().Str("symbol", string(symbol)).Int("alerts", fired).Msg("simulation complete")
	fmt.Fprintf(a.Out, "simulation produced %d alert(s)\n", fired)
	return fired, nil
}
