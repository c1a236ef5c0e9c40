package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"crypto-alerts/internal/market"
	"crypto-alerts/internal/service"
	"crypto-alerts/internal/tenant"
)

// onDemand builds a coordinator without a scheduler for one-shot reads.
func (a *App) onDemand(ctx context.Context) (*service.Service, func(), error) {
	st, err := a.openStores(ctx)
	if err != nil {
		return nil, nil, err
	}
	adapters, err := a.newAdapters()
	if err != nil {
		st.close()
		return nil, nil, err
	}
	svc := a.newService(st, a.newAggregator(adapters), nil)
	if err := svc.Load(ctx); err != nil {
		st.close()
		return nil, nil, err
	}
	return svc, st.close, nil
}

// resolveSymbols parses the requested symbols; with none given it uses the tenants' union, or the free tier defaults when there are no tenants.
func resolveSymbols(svc *service.Service, raw []string) ([]market.Symbol, error) {
	symbols, err := market.ParseSymbols(raw)
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 && svc.Stats().Tenants.Total == 0 {
		symbols = tenant.DefaultSettings(tenant.TierFree).Symbols
	}
	return symbols, nil
}

// Prices fetches live quotes from every enabled exchange and prints them.
func (a *App) Prices(ctx context.Context, opts ShowOptions) error {
	svc, closeFn, err := a.onDemand(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	symbols, err := resolveSymbols(svc, opts.Symbols)
	if err != nil {
		return err
	}
	table := svc.Prices(ctx, symbols)
	if len(table) == 0 {
		fmt.Fprintln(a.Out, "no quotes available")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tExchange\tPrice\tBid\tAsk\t24h%\tObserved (UTC)")
	for _, sym := range table.Symbols() {
		for _, q := range table.Quotes(sym) {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				sym,
				q.Exchange,
				q.Price.String(),
				optDecimal(q.Bid, 8),
				optDecimal(q.Ask, 8),
				optDecimal(q.Change24hPct, 2),
				q.ObservedAt.UTC().Format(time.RFC3339),
			)
		}
		if avg, ok := table.Average(sym); ok {
			fmt.Fprintf(writer, "%s\t%s\t%s\t\t\t\t\n", sym, "average", formatDecimal(avg, 8))
		}
	}
	return writer.Flush()
}

// Arbitrage prints current cross-exchange opportunities above the minimum profit.
func (a *App) Arbitrage(ctx context.Context, opts ShowOptions) error {
	minPct := decimal.NewFromFloat(0.5)
	if opts.MinPct != "" {
		v, err := decimal.NewFromString(opts.MinPct)
		if err != nil || v.IsNegative() {
			return fmt.Errorf("invalid --min-pct %q", opts.MinPct)
		}
		minPct = v
	}

	svc, closeFn, err := a.onDemand(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	symbols, err := resolveSymbols(svc, opts.Symbols)
	if err != nil {
		return err
	}
	opps := svc.Arbitrage(ctx, symbols, minPct)
	if len(opps) == 0 {
		fmt.Fprintf(a.Out, "no opportunities at or above %s%%\n", minPct.String())
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tBuy\tBuy Price\tSell\tSell Price\tProfit%\tProfit")
	for _, o := range opps {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.Symbol,
			o.BuyExchange,
			o.BuyPrice.String(),
			o.SellExchange,
			o.SellPrice.String(),
			formatDecimal(o.ProfitPct, 3),
			o.ProfitAbs.String(),
		)
	}
	return writer.Flush()
}

// Alerts prints archived alerts, newest first. An empty tenant id lists every tenant.
func (a *App) Alerts(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.requireDB(ctx, "list alerts")
	if err != nil {
		return err
	}
	defer closeStore()

	records, err := store.ListRecentAlerts(ctx, opts.TenantID, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tTenant\tType\tSeverity\tSymbol\tMessage")
	for _, rec := range records {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.TenantID,
			rec.Type,
			rec.Severity,
			rec.Symbol,
			sanitizeInline(rec.Message),
		)
	}
	return writer.Flush()
}

func optDecimal(d *decimal.Decimal, places int32) string {
	if d == nil {
		return "-"
	}
	return formatDecimal(*d, places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
