package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"crypto-alerts/internal/tenant"
)

// withTenants loads the tenant set, applies fn and saves the result when fn changed anything.
// It edits the store directly; a running service holding the same store overwrites these edits on its next flush.
func (a *App) withTenants(ctx context.Context, fn func(reg *tenant.Registry) error) error {
	st, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	records, err := st.tenants.LoadTenants(ctx)
	if err != nil {
		return fmt.Errorf("load tenants: %w", err)
	}
	reg := tenant.NewRegistry(nil)
	reg.Load(records)

	if err := fn(reg); err != nil {
		return err
	}
	if !reg.Dirty() {
		return nil
	}
	if err := st.tenants.SaveTenants(ctx, reg.Snapshot()); err != nil {
		return fmt.Errorf("save tenants: %w", err)
	}
	return nil
}

// lookup resolves a tenant by id, then by Telegram chat id.
func lookup(reg *tenant.Registry, ref string) (tenant.Tenant, error) {
	t, err := reg.Get(ref)
	if err == nil {
		return t, nil
	}
	if byChat, chatErr := reg.GetByTelegram(ref); chatErr == nil {
		return byChat, nil
	}
	return tenant.Tenant{}, err
}

// TenantAdd registers a tenant; an already-known chat id returns the existing tenant.
func (a *App) TenantAdd(ctx context.Context, name, chatID, tierName string) error {
	tier, err := tenant.ParseTier(tierName)
	if err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return errors.New("tenant name is required")
	}
	return a.withTenants(ctx, func(reg *tenant.Registry) error {
		t, created := reg.Create(name, chatID, tier)
		a.Logger.Info().Str("tenant_id", t.ID).Bool("created", created).Str("tier", string(t.Tier)).Msg("tenant registered")
		return a.printJSON(t)
	})
}

// TenantList prints every tenant.
func (a *App) TenantList(ctx context.Context) error {
	return a.withTenants(ctx, func(reg *tenant.Registry) error {
		tenants := reg.Snapshot()
		if len(tenants) == 0 {
			fmt.Fprintln(a.Out, "no tenants registered")
			return nil
		}
		writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "ID\tName\tTier\tStatus\tSymbols\tAlerts\tExpires (UTC)")
		for _, t := range tenants {
			expires := "-"
			if t.ExpiresAt != nil {
				expires = t.ExpiresAt.UTC().Format(time.RFC3339)
			}
			symbols := make([]string, 0, len(t.Settings.Symbols))
			for _, s := range t.Settings.Symbols {
				symbols = append(symbols, string(s))
			}
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				t.ID, sanitizeInline(t.Name), t.Tier, t.Status, strings.Join(symbols, ","), t.AlertCount, expires)
		}
		return writer.Flush()
	})
}

// TenantShow prints one tenant as JSON.
func (a *App) TenantShow(ctx context.Context, ref string) error {
	return a.withTenants(ctx, func(reg *tenant.Registry) error {
		t, err := lookup(reg, ref)
		if err != nil {
			return err
		}
		return a.printJSON(t)
	})
}

// TenantSet applies a validated partial settings update.
func (a *App) TenantSet(ctx context.Context, ref string, update tenant.SettingsUpdate) error {
	return a.withTenants(ctx, func(reg *tenant.Registry) error {
		t, err := lookup(reg, ref)
		if err != nil {
			return err
		}
		updated, err := reg.UpdateSettings(t.ID, update)
		if err != nil {
			return err
		}
		return a.printJSON(updated)
	})
}

// TenantUpgrade moves a tenant onto tierName for duration.
func (a *App) TenantUpgrade(ctx context.Context, ref, tierName string, duration time.Duration) error {
	tier, err := tenant.ParseTier(tierName)
	if err != nil {
		return err
	}
	return a.withTenants(ctx, func(reg *tenant.Registry) error {
		t, err := lookup(reg, ref)
		if err != nil {
			return err
		}
		upgraded, err := reg.UpgradeTier(t.ID, tier, duration)
		if err != nil {
			return err
		}
		a.Logger.Info().Str("tenant_id", upgraded.ID).Str("tier", string(upgraded.Tier)).Msg("tenant tier changed")
		return a.printJSON(upgraded)
	})
}

// TenantExpire downgrades every lapsed paid tenant to the free tier.
func (a *App) TenantExpire(ctx context.Context) error {
	return a.withTenants(ctx, func(reg *tenant.Registry) error {
		expired := reg.DowngradeExpired()
		for _, t := range expired {
			fmt.Fprintf(a.Out, "downgraded %s (%s)\n", t.ID, sanitizeInline(t.Name))
		}
		if len(expired) == 0 {
			fmt.Fprintln(a.Out, "no expired subscriptions")
		}
		return nil
	})
}

// TenantStatus suspends or reactivates a tenant.
func (a *App) TenantStatus(ctx context.Context, ref, status string) error {
	var next tenant.Status
	switch tenant.Status(strings.ToLower(strings.TrimSpace(status))) {
	case tenant.StatusActive:
		next = tenant.StatusActive
	case tenant.StatusSuspended:
		next = tenant.StatusSuspended
	default:
		return fmt.Errorf("unknown status %q (want %s or %s)", status, tenant.StatusActive, tenant.StatusSuspended)
	}
	return a.withTenants(ctx, func(reg *tenant.Registry) error {
		t, err := lookup(reg, ref)
		if err != nil {
			return err
		}
		return reg.SetStatus(t.ID, next)
	})
}

// TenantStats prints tier and status counts with monthly recurring revenue.
func (a *App) TenantStats(ctx context.Context) error {
	return a.withTenants(ctx, func(reg *tenant.Registry) error {
		return a.printJSON(reg.Stats())
	})
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
