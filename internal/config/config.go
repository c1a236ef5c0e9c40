package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"crypto-alerts/internal/fetcher"
	"crypto-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Exchanges   ExchangesConfig   `mapstructure:"exchanges"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Whale       WhaleConfig       `mapstructure:"whale"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN selects the file store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// StorageConfig locates the flat tenant file.
type StorageConfig struct {
	TenantsFile string `mapstructure:"tenants_file"`
}

// SchedulerConfig governs the polling cycle.
type SchedulerConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	StartupDelay       time.Duration `mapstructure:"startup_delay"`
	PersistEvery       int           `mapstructure:"persist_every"`
	ExpiryEvery        int           `mapstructure:"expiry_every"`
	WhaleEvery         int           `mapstructure:"whale_every"`
	HonorTenantCadence bool          `mapstructure:"honor_tenant_cadence"`
	RecordSamples      bool          `mapstructure:"record_samples"`
	AdvisoryLockKey    int64         `mapstructure:"advisory_lock_key"`
}

// ExchangesConfig selects and tunes exchange adapters.
type ExchangesConfig struct {
	Enabled        []string                  `mapstructure:"enabled"`
	Timeout        time.Duration             `mapstructure:"timeout"`
	MaxConcurrency int                       `mapstructure:"max_concurrency"`
	UserAgent      string                    `mapstructure:"user_agent"`
	Overrides      map[string]ExchangeConfig `mapstructure:"overrides"`
}

// ExchangeConfig holds per-exchange overrides.
type ExchangeConfig struct {
	BaseURL string  `mapstructure:"base_url"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// AdapterOptions merges shared and per-exchange settings for name.
func (e ExchangesConfig) AdapterOptions(name string) fetcher.Options {
	opts := fetcher.Options{
		Timeout:   e.Timeout,
		UserAgent: e.UserAgent,
	}
	if o, ok := e.Overrides[strings.ToLower(name)]; ok {
		opts.BaseURL = o.BaseURL
		opts.RPS = o.RPS
		opts.Burst = o.Burst
	}
	return opts
}

// AlertingConfig defines cooldown and routing.
type AlertingConfig struct {
	Cooldown     time.Duration  `mapstructure:"cooldown"`
	LogRetention time.Duration  `mapstructure:"log_retention"`
	SendTimeout  time.Duration  `mapstructure:"send_timeout"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
	Discord      DiscordConfig  `mapstructure:"discord"`
}

// TelegramConfig 描述 Telegram 告警参数。ChatID 仅作为没有自身 chat id 的租户的兜底。
type TelegramConfig struct {
	Required bool   `mapstructure:"required"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// DiscordConfig holds the deployment-wide webhook used when a tenant has none.
type DiscordConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// WhaleConfig covers the on-chain movement scanner.
type WhaleConfig struct {
	RPCURL        string        `mapstructure:"rpc_url"`
	Blocks        int           `mapstructure:"blocks"`
	MaxTxPerBlock int           `mapstructure:"max_tx_per_block"`
	MaxCatchUp    int           `mapstructure:"max_catch_up"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// HTTPConfig controls the status server. An empty address disables it.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// MaintenanceConfig schedules pruning jobs.
type MaintenanceConfig struct {
	PruneSchedule  string        `mapstructure:"prune_schedule"`
	AlertRetention time.Duration `mapstructure:"alert_retention"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from a .env file, config file, environment and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("CRYPTOALERTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotEnv populates the process environment from ./.env without overriding variables already set.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "cryptoalerts")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 14)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("storage.tenants_file", "data/tenants.json")

	v.SetDefault("scheduler.interval", "30s")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.persist_every", 10)
	v.SetDefault("scheduler.expiry_every", 120)
	v.SetDefault("scheduler.whale_every", 5)
	v.SetDefault("scheduler.honor_tenant_cadence", true)
	v.SetDefault("scheduler.record_samples", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x63616c72))

	v.SetDefault("exchanges.enabled", fetcher.Supported())
	v.SetDefault("exchanges.timeout", "8s")
	v.SetDefault("exchanges.max_concurrency", 0)
	v.SetDefault("exchanges.user_agent", "cryptoalerts/1.0")

	v.SetDefault("alerting.cooldown", "15m")
	v.SetDefault("alerting.log_retention", "168h")
	v.SetDefault("alerting.send_timeout", "10s")
	v.SetDefault("alerting.telegram.required", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.discord.webhook_url", "")

	v.SetDefault("whale.rpc_url", "")
	v.SetDefault("whale.blocks", 3)
	v.SetDefault("whale.max_tx_per_block", 0)
	v.SetDefault("whale.max_catch_up", 64)
	v.SetDefault("whale.timeout", "15s")

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("maintenance.prune_schedule", "@every 10m")
	v.SetDefault("maintenance.alert_retention", "720h")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.PersistEvery <= 0 || c.Scheduler.ExpiryEvery <= 0 || c.Scheduler.WhaleEvery <= 0 {
		return fmt.Errorf("scheduler.persist_every, expiry_every and whale_every must be greater than zero")
	}
	if c.Whale.Blocks <= 0 || c.Whale.MaxCatchUp < c.Whale.Blocks {
		return fmt.Errorf("whale.blocks must be positive and whale.max_catch_up at least whale.blocks")
	}
	if c.Alerting.Cooldown < 0 {
		return fmt.Errorf("alerting.cooldown cannot be negative")
	}
	if len(c.Exchanges.Enabled) == 0 {
		return fmt.Errorf("exchanges.enabled must list at least one exchange")
	}
	for _, name := range c.Exchanges.Enabled {
		if _, err := fetcher.New(name, fetcher.Options{}); err != nil {
			return fmt.Errorf("exchanges.enabled: %w", err)
		}
	}
	if c.Database.DSN == "" && c.Storage.TenantsFile == "" {
		return fmt.Errorf("either database.dsn or storage.tenants_file must be configured")
	}
	if c.Alerting.Telegram.Required && c.Alerting.Telegram.BotToken == "" {
		return fmt.Errorf("alerting.telegram.bot_token 必须配置")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
