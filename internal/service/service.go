package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"crypto-alerts/internal/alerting"
	"crypto-alerts/internal/detector"
	"crypto-alerts/internal/market"
	"crypto-alerts/internal/metrics"
	"crypto-alerts/internal/scheduler"
	"crypto-alerts/internal/storage"
	"crypto-alerts/internal/tenant"
	"crypto-alerts/internal/whale"
)

// ethSymbol prices whale movements.
const ethSymbol = market.Symbol("ETH/USDT")

// QuoteFetcher is the shared per-cycle quote source.
type QuoteFetcher interface {
	FetchAll(ctx context.Context, symbols []market.Symbol) market.QuoteTable
	Adapters() []string
}

// WhaleScanner finds large on-chain movements.
type WhaleScanner interface {
	Scan(ctx context.Context, ethUSD, minUSD decimal.Decimal) ([]whale.Movement, error)
}

// SinkFactory builds the notification sinks for one tenant.
type SinkFactory func(t tenant.Tenant) []alerting.Sink

// Options tune the coordinator.
type Options struct {
	PersistEvery       uint64
	ExpiryEvery        uint64
	WhaleEvery         uint64
	HonorTenantCadence bool
	RecordSamples      bool
	LockKey            int64
	Cooldown           time.Duration
	LogRetention       time.Duration
	Now                func() time.Time
}

// Dependencies are the collaborators the coordinator drives. Only Quotes and Tenants are required.
type Dependencies struct {
	Quotes   QuoteFetcher
	Tenants  *tenant.Registry
	Store    tenant.Store
	Archiver alerting.Archiver
	Samples  storage.PriceSampleStore
	Locker   storage.AdvisoryLocker
	Whales   WhaleScanner
	Sinks    SinkFactory
	Fallback alerting.Sink
}

// Snapshot is the on-demand view served by the status API.
type Snapshot struct {
	Tenants   tenant.Stats   `json:"tenants"`
	Alerts    alerting.Stats `json:"alerts"`
	Ticks     uint64         `json:"ticks"`
	LastTick  time.Time      `json:"last_tick"`
	Exchanges []string       `json:"exchanges"`
	Baselines int            `json:"baselines"`
}

type tenantDispatcher struct {
	dispatcher *alerting.Dispatcher
	sinkKey    string
}

// Service orchestrates fetching, detection and alert dispatch for every tenant.
type Service struct {
	opts      Options
	deps      Dependencies
	scheduler *scheduler.Scheduler
	history   *detector.PriceHistory
	logger    zerolog.Logger

	mu          sync.Mutex
	dispatchers map[string]*tenantDispatcher
	observers   []alerting.Observer
	ticks       uint64
	lastTick    time.Time
}

// New constructs the coordinator.
func New(opts Options, deps Dependencies, sched *scheduler.Scheduler, logger zerolog.Logger) *Service {
	if opts.PersistEvery == 0 {
		opts.PersistEvery = 10
	}
	if opts.ExpiryEvery == 0 {
		opts.ExpiryEvery = 120
	}
	if opts.WhaleEvery == 0 {
		opts.WhaleEvery = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Sinks == nil {
		deps.Sinks = func(tenant.Tenant) []alerting.Sink { return nil }
	}
	return &Service{
		opts:        opts,
		deps:        deps,
		scheduler:   sched,
		history:     detector.NewPriceHistory(),
		logger:      logger.With().Str("component", "service").Logger(),
		dispatchers: make(map[string]*tenantDispatcher),
	}
}

// Load restores tenant records from the store.
func (s *Service) Load(ctx context.Context) error {
	if s.deps.Store == nil {
		return nil
	}
	records, err := s.deps.Store.LoadTenants(ctx)
	if err != nil {
		return fmt.Errorf("load tenants: %w", err)
	}
	s.deps.Tenants.Load(records)
	s.logger.Info().Int("tenants", len(records)).Msg("tenants loaded")
	return nil
}

// Run drives the polling loop until ctx is cancelled, then stops the scheduler and flushes tenant state.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if err := s.scheduler.Start(ctx, s.ProcessTick); err != nil {
		return err
	}
	s.logger.Info().Strs("exchanges", s.deps.Quotes.Adapters()).Msg("coordinator running")

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.scheduler.Stop(stopCtx); err != nil {
		s.logger.Error().Err(err).Msg("scheduler did not stop cleanly")
	}
	if err := s.Flush(stopCtx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	s.logger.Info().Msg("coordinator stopped")
	return nil
}

// Observe registers an observer on every current and future tenant dispatcher.
func (s *Service) Observe(o alerting.Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
	for _, td := range s.dispatchers {
		td.dispatcher.AddObserver(o)
	}
}

// ProcessTick 执行一个轮询周期：统一抓取一次行情，再逐个租户检测并派发告警。
func (s *Service) ProcessTick(ctx context.Context, tick uint64, at time.Time) (err error) {
	started := time.Now()
	defer func() { metrics.ObserveCycle(time.Since(started), err) }()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Uint64("tick", tick).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	now := s.opts.Now()
	tenants := s.deps.Tenants.Active()
	due := tenants
	if s.opts.HonorTenantCadence {
		due = lo.Filter(tenants, func(t tenant.Tenant, _ int) bool { return t.Due(now) })
	}

	whaleTick := s.deps.Whales != nil && tick%s.opts.WhaleEvery == 0 &&
		lo.SomeBy(due, func(t tenant.Tenant) bool { return t.Features().Whale })

	if len(due) > 0 {
		symbols := unionSymbols(due)
		if whaleTick {
			symbols = lo.Uniq(append(symbols, ethSymbol))
		}
		table := s.deps.Quotes.FetchAll(ctx, symbols)
		s.recordSamples(ctx, at, table)

		var movements []whale.Movement
		if whaleTick {
			movements = s.scanWhales(ctx, table, due)
		}

		for _, t := range due {
			if ctx.Err() != nil {
				break
			}
			sent, procErr := s.processTenant(ctx, t, table, movements, now)
			if procErr != nil {
				metrics.RecordTenantFailure()
				s.logger.Error().Err(procErr).Str("tenant_id", t.ID).Msg("tenant processing failed")
			}
			s.deps.Tenants.IncrementAlertCount(t.ID, sent)
			s.deps.Tenants.MarkProcessed(t.ID, now)
		}
	}

	if tick%s.opts.ExpiryEvery == 0 {
		s.checkExpiry()
	}
	if tick%s.opts.PersistEvery == 0 {
		if err := s.Flush(ctx); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist tenants")
		}
	}

	s.mu.Lock()
	s.ticks = tick
	s.lastTick = now
	s.mu.Unlock()

	stats := s.deps.Tenants.Stats()
	byTier := make(map[string]int, len(stats.ByTier))
	for tier, n := range stats.ByTier {
		byTier[string(tier)] = n
	}
	metrics.SetTenants(byTier)

	s.logger.Debug().Uint64("tick", tick).Int("tenants", len(due)).Dur("elapsed", time.Since(started)).Msg("tick complete")
	return nil
}

// processTenant runs every detector the tenant is entitled to and dispatches the results.
// A panic in any step is contained to this tenant.
func (s *Service) processTenant(ctx context.Context, t tenant.Tenant, table market.QuoteTable, movements []whale.Movement, now time.Time) (sent int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing tenant: %v", r)
		}
	}()

	settings := t.Settings
	alerts := make([]alerting.AlertRecord, 0)

	for _, c := range detector.DetectTargetCrossings(table, t.ID, settings.Targets, s.history, now) {
		alerts = append(alerts, alerting.TargetAlert(c))
	}
	for _, ev := range detector.DetectPriceChanges(table, t.ID, settings.Symbols, settings.PriceChangeThresholdPct, s.history, now) {
		alerts = append(alerts, alerting.PriceChangeAlert(ev, settings.PriceChangeThresholdPct))
	}
	// targets on symbols outside the watch list still need a rolling baseline
	for _, target := range settings.Targets {
		if lo.Contains(settings.Symbols, target.Symbol) {
			continue
		}
		if avg, ok := table.Average(target.Symbol); ok {
			s.history.Set(t.ID, target.Symbol, avg)
		}
	}

	features := t.Features()
	if features.Arbitrage {
		for _, opp := range detector.DetectArbitrage(table, settings.Symbols, settings.ArbitrageThresholdPct, now) {
			alerts = append(alerts, alerting.ArbitrageAlert(opp, t.ID))
		}
	}
	if features.Whale && len(movements) > 0 {
		for _, m := range whale.Filter(movements, settings.WhaleThresholdUSD) {
			alerts = append(alerts, alerting.WhaleAlert(m, t.ID))
		}
	}

	if !settings.AlertsEnabled || len(alerts) == 0 {
		return 0, nil
	}

	d := s.dispatcherFor(t)
	for _, a := range alerts {
		a.TenantID = t.ID
		if res := d.Dispatch(ctx, a); !res.Suppressed {
			sent++
		}
	}
	return sent, nil
}

func (s *Service) scanWhales(ctx context.Context, table market.QuoteTable, due []tenant.Tenant) []whale.Movement {
	ethUSD, ok := table.Average(ethSymbol)
	if !ok {
		s.logger.Warn().Msg("skip whale scan: no ETH/USDT price this cycle")
		return nil
	}
	gated := lo.Filter(due, func(t tenant.Tenant, _ int) bool { return t.Features().Whale })
	minUSD := gated[0].Settings.WhaleThresholdUSD
	for _, t := range gated[1:] {
		minUSD = decimal.Min(minUSD, t.Settings.WhaleThresholdUSD)
	}

	movements, err := s.deps.Whales.Scan(ctx, ethUSD, minUSD)
	if err != nil {
		s.logger.Warn().Err(err).Int("movements", len(movements)).Msg("whale scan incomplete")
	}
	return movements
}

func (s *Service) checkExpiry() {
	for _, t := range s.deps.Tenants.DowngradeExpired() {
		s.history.Forget(t.ID)
		s.logger.Info().Str("tenant_id", t.ID).Str("tier", string(t.Tier)).Msg("subscription expired, downgraded")
	}
}

func (s *Service) recordSamples(ctx context.Context, at time.Time, table market.QuoteTable) {
	if !s.opts.RecordSamples || s.deps.Samples == nil || len(table) == 0 {
		return
	}
	if err := s.deps.Samples.UpsertPriceSamples(ctx, storage.SamplesFromTable(at.UTC(), table)); err != nil {
		s.logger.Error().Err(err).Msg("failed to record price samples")
	}
}

// Flush first merges tenant changes other processes wrote to the store (CLI edits while running), then persists
// the registry when it changed since the last save.
func (s *Service) Flush(ctx context.Context) error {
	if s.deps.Store == nil {
		return nil
	}
	stored, err := s.deps.Store.LoadTenants(ctx)
	if err != nil {
		return fmt.Errorf("reload tenants: %w", err)
	}
	if merged := s.deps.Tenants.Merge(stored); merged > 0 {
		s.logger.Info().Int("tenants", merged).Msg("merged tenant changes from store")
	}
	if !s.deps.Tenants.Dirty() {
		return nil
	}
	snapshot := s.deps.Tenants.Snapshot()
	s.deps.Tenants.MarkClean()
	if err := s.deps.Store.SaveTenants(ctx, snapshot); err != nil {
		s.deps.Tenants.MarkDirty()
		return fmt.Errorf("save tenants: %w", err)
	}
	s.logger.Debug().Int("tenants", len(snapshot)).Msg("tenants persisted")
	return nil
}

func (s *Service) dispatcherFor(t tenant.Tenant) *alerting.Dispatcher {
	key := t.TelegramChatID + "|" + t.Settings.DiscordWebhook

	s.mu.Lock()
	defer s.mu.Unlock()
	td, ok := s.dispatchers[t.ID]
	if !ok {
		d := alerting.NewDispatcher(t.ID, s.deps.Sinks(t), alerting.DispatcherOptions{
			Cooldown:  s.opts.Cooldown,
			Retention: s.opts.LogRetention,
			Fallback:  s.deps.Fallback,
			Archiver:  s.deps.Archiver,
			Now:       s.opts.Now,
		}, s.logger)
		for _, o := range s.observers {
			d.AddObserver(o)
		}
		td = &tenantDispatcher{dispatcher: d, sinkKey: key}
		s.dispatchers[t.ID] = td
		return d
	}
	if td.sinkKey != key {
		td.dispatcher.SetSinks(s.deps.Sinks(t))
		td.sinkKey = key
	}
	return td.dispatcher
}

// Dispatch sends a single alert through the tenant's ledger and sinks outside the scheduled cycle.
// A missing id is derived the same way detector alerts derive theirs.
func (s *Service) Dispatch(ctx context.Context, tenantID string, alert alerting.AlertRecord) (alerting.Result, error) {
	t, err := s.deps.Tenants.Get(tenantID)
	if err != nil {
		return alerting.Result{}, err
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = s.opts.Now().UTC()
	}
	if alert.ID == "" {
		alert.ID = alerting.NewID(alert.Type, alert.Symbol, alert.DedupKey, alert.Severity, alert.CreatedAt)
	}
	alert.TenantID = t.ID
	res := s.dispatcherFor(t).Dispatch(ctx, alert)
	if !res.Suppressed {
		s.deps.Tenants.IncrementAlertCount(t.ID, 1)
	}
	return res, nil
}

// Prices fetches a fresh quote table. With no symbols, the union of active tenants' symbols is used.
func (s *Service) Prices(ctx context.Context, symbols []market.Symbol) market.QuoteTable {
	if len(symbols) == 0 {
		symbols = unionSymbols(s.deps.Tenants.Active())
	}
	return s.deps.Quotes.FetchAll(ctx, symbols)
}

// Arbitrage fetches fresh quotes and returns the current opportunities at minProfitPct.
func (s *Service) Arbitrage(ctx context.Context, symbols []market.Symbol, minProfitPct decimal.Decimal) []detector.Opportunity {
	if len(symbols) == 0 {
		symbols = unionSymbols(s.deps.Tenants.Active())
	}
	table := s.deps.Quotes.FetchAll(ctx, symbols)
	return detector.DetectArbitrage(table, symbols, minProfitPct, s.opts.Now())
}

// RecentAlerts returns a tenant's retained alerts, newest first.
func (s *Service) RecentAlerts(tenantID string, limit int) ([]alerting.AlertRecord, error) {
	s.mu.Lock()
	td, ok := s.dispatchers[tenantID]
	s.mu.Unlock()
	if !ok {
		if _, err := s.deps.Tenants.Get(tenantID); err != nil {
			return nil, err
		}
		return []alerting.AlertRecord{}, nil
	}
	return td.dispatcher.Recent(limit), nil
}

// Stats summarises tenants and alert activity.
func (s *Service) Stats() Snapshot {
	s.mu.Lock()
	all := make([]alerting.Stats, 0, len(s.dispatchers))
	for _, td := range s.dispatchers {
		all = append(all, td.dispatcher.Stats())
	}
	snap := Snapshot{
		Ticks:    s.ticks,
		LastTick: s.lastTick,
	}
	s.mu.Unlock()

	snap.Tenants = s.deps.Tenants.Stats()
	snap.Alerts = alerting.MergeStats(all...)
	snap.Exchanges = s.deps.Quotes.Adapters()
	snap.Baselines = s.history.Len()
	return snap
}

// Prune trims every dispatcher's alert log and expired ledger entries.
func (s *Service) Prune() (logRemoved, ledgerRemoved int) {
	s.mu.Lock()
	ds := lo.MapToSlice(s.dispatchers, func(_ string, td *tenantDispatcher) *alerting.Dispatcher { return td.dispatcher })
	s.mu.Unlock()

	for _, d := range ds {
		l, g := d.Prune()
		logRemoved += l
		ledgerRemoved += g
	}
	return logRemoved, ledgerRemoved
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotConfigured) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// unionSymbols collects watched and targeted symbols across tenants, in first-seen order.
func unionSymbols(tenants []tenant.Tenant) []market.Symbol {
	return lo.Uniq(lo.FlatMap(tenants, func(t tenant.Tenant, _ int) []market.Symbol {
		out := append([]market.Symbol(nil), t.Settings.Symbols...)
		for _, target := range t.Settings.Targets {
			out = append(out, target.Symbol)
		}
		return out
	}))
}
