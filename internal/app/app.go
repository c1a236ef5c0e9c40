package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"crypto-alerts/internal/aggregator"
	"crypto-alerts/internal/alerting"
	"crypto-alerts/internal/config"
	"crypto-alerts/internal/fetcher"
	"crypto-alerts/internal/httpapi"
	"crypto-alerts/internal/maintenance"
	"crypto-alerts/internal/scheduler"
	"crypto-alerts/internal/service"
	"crypto-alerts/internal/storage"
	"crypto-alerts/internal/tenant"
	"crypto-alerts/internal/version"
	"crypto-alerts/internal/whale"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// stores bundles the persistence backends. db is nil when no DSN is configured.
type stores struct {
	db      *storage.Store
	tenants tenant.Store
	close   func()
}

func (a *App) openStores(ctx context.Context) (stores, error) {
	if a.Config.Database.DSN == "" {
		return stores{
			tenants: storage.NewFileStore(a.Config.Storage.TenantsFile),
			close:   func() {},
		}, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return stores{}, err
	}
	store := storage.NewStore(pool)
	return stores{db: store, tenants: store, close: store.Close}, nil
}

func (a *App) requireDB(ctx context.Context, action string) (*storage.Store, func(), error) {
	st, err := a.openStores(ctx)
	if err != nil {
		return nil, nil, err
	}
	if st.db == nil {
		st.close()
		return nil, nil, errors.New("database not configured; cannot " + action)
	}
	return st.db, st.close, nil
}

func (a *App) newAdapters() ([]fetcher.Adapter, error) {
	ex := a.Config.Exchanges
	adapters := make([]fetcher.Adapter, 0, len(ex.Enabled))
	for _, name := range ex.Enabled {
		src, err := fetcher.New(name, ex.AdapterOptions(name))
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, fetcher.Guard(src, ex.Timeout, a.Logger))
	}
	return adapters, nil
}

func (a *App) newAggregator(adapters []fetcher.Adapter) *aggregator.Aggregator {
	return aggregator.New(adapters, aggregator.Options{
		MaxConcurrency: a.Config.Exchanges.MaxConcurrency,
		AdapterTimeout: a.Config.Exchanges.Timeout,
	}, a.Logger)
}

// newWhaleScanner returns nil when no RPC endpoint is configured.
func (a *App) newWhaleScanner() service.WhaleScanner {
	cfg := a.Config.Whale
	if cfg.RPCURL == "" {
		return nil
	}
	src := whale.NewEthSource(whale.EthOptions{
		RPCURL:        cfg.RPCURL,
		Blocks:        cfg.Blocks,
		MaxTxPerBlock: cfg.MaxTxPerBlock,
		MaxCatchUp:    cfg.MaxCatchUp,
		Timeout:       cfg.Timeout,
	}, a.Logger)
	return whale.NewScanner(src, a.Logger)
}

// sinkFactory routes each tenant to Telegram (own chat id, else the global one) and Discord (own webhook, else the global one).
func (a *App) sinkFactory() service.SinkFactory {
	cfg := a.Config.Alerting
	return func(t tenant.Tenant) []alerting.Sink {
		var sinks []alerting.Sink
		if cfg.Telegram.BotToken != "" {
			chatID := t.TelegramChatID
			if chatID == "" {
				chatID = cfg.Telegram.ChatID
			}
			if chatID != "" {
				sinks = append(sinks, alerting.NewTelegramSink(cfg.Telegram.BotToken, chatID, cfg.Telegram.APIBase, cfg.SendTimeout, a.Logger))
			}
		}
		hook := t.Settings.DiscordWebhook
		if hook == "" {
			hook = cfg.Discord.WebhookURL
		}
		if hook != "" {
			sinks = append(sinks, alerting.NewDiscordSink(hook, cfg.SendTimeout, a.Logger))
		}
		return sinks
	}
}

func (a *App) serviceOptions() service.Options {
	sc := a.Config.Scheduler
	return service.Options{
		PersistEvery:       uint64(sc.PersistEvery),
		ExpiryEvery:        uint64(sc.ExpiryEvery),
		WhaleEvery:         uint64(sc.WhaleEvery),
		HonorTenantCadence: sc.HonorTenantCadence,
		RecordSamples:      sc.RecordSamples,
		LockKey:            sc.AdvisoryLockKey,
		Cooldown:           a.Config.Alerting.Cooldown,
		LogRetention:       a.Config.Alerting.LogRetention,
	}
}

// newService wires the coordinator. Database-backed collaborators stay nil interfaces without a DSN.
func (a *App) newService(st stores, quotes service.QuoteFetcher, sched *scheduler.Scheduler) *service.Service {
	deps := service.Dependencies{
		Quotes:   quotes,
		Tenants:  tenant.NewRegistry(nil),
		Store:    st.tenants,
		Whales:   a.newWhaleScanner(),
		Sinks:    a.sinkFactory(),
		Fallback: alerting.NewConsoleSink(a.Out, a.Logger),
	}
	if st.db != nil {
		deps.Archiver = st.db
		deps.Samples = st.db
		deps.Locker = st.db
	}
	return service.New(a.serviceOptions(), deps, sched, a.Logger)
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.Config.Database.DSN != "" && a.Config.Database.AutoMigrate {
		if err := storage.Migrate(a.Config.Database.DSN); err != nil {
			return err
		}
	}

	st, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer st.close()
	if st.db == nil {
		a.Logger.Warn().Str("file", a.Config.Storage.TenantsFile).Msg("database.dsn not configured; using tenant file, alert archive and samples disabled")
	}

	adapters, err := a.newAdapters()
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: true,
	}, a.Logger)

	svc := a.newService(st, a.newAggregator(adapters), sched)
	if err := svc.Load(ctx); err != nil {
		return err
	}

	var purger maintenance.AlertPurger
	if st.db != nil {
		purger = st.db
	}
	runner, err := maintenance.New(maintenance.Options{
		Schedule:       a.Config.Maintenance.PruneSchedule,
		AlertRetention: a.Config.Maintenance.AlertRetention,
	}, svc, purger, a.Logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error {
		runner.Run(gctx)
		return nil
	})
	if a.Config.HTTP.Addr != "" {
		srv := httpapi.New(a.Config.HTTP.Addr, svc, a.Logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	a.Logger.Info().Strs("exchanges", a.Config.Exchanges.Enabled).Str("version", version.Version).Msg("starting monitoring service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the prices, arbitrage and alerts commands.
type ShowOptions struct {
	Symbols  []string
	MinPct   string
	TenantID string
	Limit    int
}
