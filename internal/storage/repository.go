package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"crypto-alerts/internal/alerting"
	"crypto-alerts/internal/market"
	"crypto-alerts/internal/tenant"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertTenantSQL = `INSERT INTO tenants (
        id,
        name,
        telegram_chat_id,
        tier,
        status,
        settings,
        alert_count,
        created_at,
        upgraded_at,
        expires_at,
        last_processed_at,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
    )
    ON CONFLICT (id) DO UPDATE
    SET
        name              = EXCLUDED.name,
        telegram_chat_id  = EXCLUDED.telegram_chat_id,
        tier              = EXCLUDED.tier,
        status            = EXCLUDED.status,
        settings          = EXCLUDED.settings,
        alert_count       = EXCLUDED.alert_count,
        upgraded_at       = EXCLUDED.upgraded_at,
        expires_at        = EXCLUDED.expires_at,
        last_processed_at = EXCLUDED.last_processed_at,
        updated_at        = EXCLUDED.updated_at;`

	listTenantsSQL = `SELECT
        id,
        name,
        telegram_chat_id,
        tier,
        status,
        settings,
        alert_count,
        created_at,
        upgraded_at,
        expires_at,
        last_processed_at,
        updated_at
    FROM tenants
    ORDER BY created_at, id;`

	insertAlertSQL = `INSERT INTO alerts (
        id,
        tenant_id,
        type,
        symbol,
        severity,
        title,
        message,
        dedup_key,
        payload,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (tenant_id, id, created_at) DO NOTHING;`

	listRecentAlertsSQL = `SELECT
        id,
        tenant_id,
        type,
        symbol,
        severity,
        title,
        message,
        dedup_key,
        payload,
        created_at
    FROM alerts
    WHERE ($1 = '' OR tenant_id = $1)
    ORDER BY created_at DESC
    LIMIT $2;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	upsertPriceSampleSQL = `INSERT INTO price_samples (
        bucket_ts,
        symbol,
        avg_price,
        min_price,
        max_price,
        spread_pct,
        exchanges
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (bucket_ts, symbol) DO UPDATE
    SET
        avg_price  = EXCLUDED.avg_price,
        min_price  = EXCLUDED.min_price,
        max_price  = EXCLUDED.max_price,
        spread_pct = EXCLUDED.spread_pct,
        exchanges  = EXCLUDED.exchanges;`

	listSamplesBetweenSQL = `SELECT
        bucket_ts,
        symbol,
        avg_price::text,
        min_price::text,
        max_price::text,
        spread_pct::text,
        exchanges,
        created_at
    FROM price_samples
    WHERE symbol = $1
      AND bucket_ts >= $2
      AND bucket_ts < $3
    ORDER BY bucket_ts;`

	listRecentSamplesSQL = `SELECT
        bucket_ts,
        symbol,
        avg_price::text,
        min_price::text,
        max_price::text,
        spread_pct::text,
        exchanges,
        created_at
    FROM price_samples
    WHERE symbol = $1
    ORDER BY bucket_ts DESC
    LIMIT $2;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PriceSampleStore defines operations for price sample persistence.
type PriceSampleStore interface {
	UpsertPriceSamples(ctx context.Context, samples []PriceSample) error
	ListSamplesBetween(ctx context.Context, symbol market.Symbol, from, to time.Time) ([]PriceSample, error)
	ListRecentSamples(ctx context.Context, symbol market.Symbol, limit int) ([]PriceSample, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	alerting.Archiver
	ListRecentAlerts(ctx context.Context, tenantID string, limit int) ([]alerting.AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

var (
	_ tenant.Store     = (*Store)(nil)
	_ AlertStore       = (*Store)(nil)
	_ PriceSampleStore = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
)

// Store aggregates access to tenants, alerts and price samples.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock dies with the connection anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// LoadTenants reads every tenant record.
func (s *Store) LoadTenants(ctx context.Context) ([]tenant.Tenant, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTenantsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list tenants: %w", queryErr)
	}
	defer rows.Close()

	tenants := make([]tenant.Tenant, 0)
	for rows.Next() {
		var (
			t            tenant.Tenant
			tier, status string
			settings     []byte
			lastSeen     *time.Time
		)
		if err := rows.Scan(
			&t.ID,
			&t.Name,
			&t.TelegramChatID,
			&tier,
			&status,
			&settings,
			&t.AlertCount,
			&t.CreatedAt,
			&t.UpgradedAt,
			&t.ExpiresAt,
			&lastSeen,
			&t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		t.Tier = tenant.Tier(tier)
		t.Status = tenant.Status(status)
		if lastSeen != nil {
			t.LastProcessedAt = *lastSeen
		}
		if err := json.Unmarshal(settings, &t.Settings); err != nil {
			return nil, fmt.Errorf("decode settings for tenant %s: %w", t.ID, err)
		}
		tenants = append(tenants, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return tenants, nil
}

// SaveTenants upserts the full tenant set in one transaction.
func (s *Store) SaveTenants(ctx context.Context, tenants []tenant.Tenant) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, t := range tenants {
			settings, err := json.Marshal(t.Settings)
			if err != nil {
				return fmt.Errorf("encode settings for tenant %s: %w", t.ID, err)
			}
			var lastSeen *time.Time
			if !t.LastProcessedAt.IsZero() {
				v := t.LastProcessedAt
				lastSeen = &v
			}
			updatedAt := t.UpdatedAt
			if updatedAt.IsZero() {
				updatedAt = t.CreatedAt
			}
			batch.Queue(upsertTenantSQL,
				t.ID,
				t.Name,
				t.TelegramChatID,
				string(t.Tier),
				string(t.Status),
				settings,
				t.AlertCount,
				t.CreatedAt,
				t.UpgradedAt,
				t.ExpiresAt,
				lastSeen,
				updatedAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert tenants: %w", err)
		}
		return nil
	})
}

// ArchiveAlert persists an accepted alert. Replays of the same record are ignored.
func (s *Store) ArchiveAlert(ctx context.Context, alert alerting.AlertRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	payload := alert.Payload
	if payload == nil {
		payload = map[string]string{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode alert payload: %w", err)
	}

	if _, execErr := pool.Exec(ctx, insertAlertSQL,
		alert.ID,
		alert.TenantID,
		string(alert.Type),
		alert.Symbol,
		string(alert.Severity),
		alert.Title,
		alert.Message,
		alert.DedupKey,
		raw,
		alert.CreatedAt,
	); execErr != nil {
		return fmt.Errorf("insert alert: %w", execErr)
	}
	return nil
}

// ListRecentAlerts lists most recent alerts; an empty tenantID spans all tenants.
func (s *Store) ListRecentAlerts(ctx context.Context, tenantID string, limit int) ([]alerting.AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, tenantID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]alerting.AlertRecord, 0, limit)
	for rows.Next() {
		var (
			rec           alerting.AlertRecord
			typ, severity string
			payload       []byte
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.TenantID,
			&typ,
			&rec.Symbol,
			&severity,
			&rec.Title,
			&rec.Message,
			&rec.DedupKey,
			&payload,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.Type = alerting.Type(typ)
		rec.Severity = alerting.Severity(severity)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &rec.Payload); err != nil {
				return nil, fmt.Errorf("decode alert payload: %w", err)
			}
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts and reports how many were removed.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete alerts before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// UpsertPriceSamples persists a cycle's summaries in a single batch.
func (s *Store) UpsertPriceSamples(ctx context.Context, samples []PriceSample) error {
	if len(samples) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, sample := range samples {
		batch.Queue(upsertPriceSampleSQL,
			sample.Bucket,
			sample.Symbol.String(),
			sample.AvgPrice.String(),
			sample.MinPrice.String(),
			sample.MaxPrice.String(),
			sample.SpreadPct.String(),
			sample.Exchanges,
		)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert price samples: %w", err)
	}
	return nil
}

// ListSamplesBetween lists one symbol's samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, symbol market.Symbol, from, to time.Time) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, symbol.String(), from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()
	return collectSamples(rows, 0)
}

// ListRecentSamples lists the most recent samples ordered by descending bucket.
func (s *Store) ListRecentSamples(ctx context.Context, symbol market.Symbol, limit int) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, symbol.String(), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()
	return collectSamples(rows, limit)
}

func collectSamples(rows pgx.Rows, capacity int) ([]PriceSample, error) {
	samples := make([]PriceSample, 0, capacity)
	for rows.Next() {
		sample, scanErr := scanPriceSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

func scanPriceSample(rows pgx.Rows) (PriceSample, error) {
	var (
		sample    PriceSample
		symbol    string
		avgStr    string
		minStr    string
		maxStr    string
		spreadStr string
	)

	if err := rows.Scan(
		&sample.Bucket,
		&symbol,
		&avgStr,
		&minStr,
		&maxStr,
		&spreadStr,
		&sample.Exchanges,
		&sample.CreatedAt,
	); err != nil {
		return PriceSample{}, err
	}
	sample.Symbol = market.Symbol(symbol)

	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"avg price", avgStr, &sample.AvgPrice},
		{"min price", minStr, &sample.MinPrice},
		{"max price", maxStr, &sample.MaxPrice},
		{"spread pct", spreadStr, &sample.SpreadPct},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return PriceSample{}, fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = v
	}
	return sample, nil
}
