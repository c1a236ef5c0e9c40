package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-alerts/internal/alerting"
	"crypto-alerts/internal/detector"
	"crypto-alerts/internal/market"
	"crypto-alerts/internal/tenant"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "tenants.json")
	store := NewFileStore(path)

	loaded, err := store.LoadTenants(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded)

	reg := tenant.NewRegistry(func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) })
	pro, _ := reg.Create("desk", "42", tenant.TierPro)
	_, err = reg.UpdateSettings(pro.ID, tenant.SettingsUpdate{
		Targets: &[]detector.PriceTarget{{Symbol: "BTC/USDT", Level: decimal.NewFromInt(70000), Direction: detector.DirectionAbove}},
	})
	require.NoError(t, err)
	reg.Create("hobby", "43", tenant.TierFree)

	require.NoError(t, store.SaveTenants(context.Background(), reg.Snapshot()))

	loaded, err = store.LoadTenants(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	restored := tenant.NewRegistry(nil)
	restored.Load(loaded)
	got, err := restored.GetByTelegram("42")
	require.NoError(t, err)
	assert.Equal(t, tenant.TierPro, got.Tier)
	require.Len(t, got.Settings.Targets, 1)
	assert.True(t, got.Settings.Targets[0].Level.Equal(decimal.NewFromInt(70000)))
	require.NotNil(t, got.ExpiresAt)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenants.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path).LoadTenants(context.Background())
	require.Error(t, err)
}

func TestStoreWithoutPool(t *testing.T) {
	var s *Store
	ctx := context.Background()

	_, err := s.LoadTenants(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, s.ArchiveAlert(ctx, alerting.AlertRecord{ID: "x"}), ErrNotConfigured)
	_, _, err = s.TryAdvisoryLock(ctx, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.NoError(t, NewStore(nil).UpsertPriceSamples(ctx, nil))
	s.Close()
}

func TestSamplesFromTable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	table := market.QuoteTable{}
	table.Put(market.Quote{Symbol: "BTC/USDT", Exchange: "binance", Price: decimal.NewFromInt(100), ObservedAt: now})
	table.Put(market.Quote{Symbol: "BTC/USDT", Exchange: "kraken", Price: decimal.NewFromInt(102), ObservedAt: now})

	samples := SamplesFromTable(now, table)
	require.Len(t, samples, 1)
	s := samples[0]
	assert.Equal(t, market.Symbol("BTC/USDT"), s.Symbol)
	assert.True(t, s.AvgPrice.Equal(decimal.NewFromInt(101)))
	assert.True(t, s.SpreadPct.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, []string{"binance", "kraken"}, s.Exchanges)
}

func TestMigrationURL(t *testing.T) {
	url, err := migrationURL("postgres://u:p@db:5432/alerts?sslmode=disable")
	require.NoError(t, err)
	assert.Equal(t, "pgx5://u:p@db:5432/alerts?sslmode=disable", url)

	_, err = migrationURL("host=db user=u")
	assert.Error(t, err)
	_, err = migrationURL("")
	assert.Error(t, err)
}
