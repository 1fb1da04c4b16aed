package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full startup configuration. Invalid configuration is fatal:
// the service must not reach running state with an empty provider list or a
// provider enabled without credentials.
type Config struct {
	Server     Server     `mapstructure:"server"`
	Redis      Redis      `mapstructure:"redis"`
	Providers  Providers  `mapstructure:"providers"`
	Intervals  Intervals  `mapstructure:"intervals"`
	Symbols    []string   `mapstructure:"symbols"`
	Validation Validation `mapstructure:"validation"`
	Storage    Storage    `mapstructure:"storage"`
	Health     Health     `mapstructure:"health"`
	Logging    Logging    `mapstructure:"logging"`
}

type Server struct {
	Port              string `mapstructure:"port"`
	RequestTimeoutSec int    `mapstructure:"request_timeout_sec"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Providers names the active provider and the ordered fallback list, plus the
// per-vendor settings. Failover order is data, not wiring.
type Providers struct {
	Primary   string   `mapstructure:"primary"`
	Fallbacks []string `mapstructure:"fallbacks"`
	AlphaVan  Vendor   `mapstructure:"alphavan"`
	FinBar    Vendor   `mapstructure:"finbar"`
}

// Vendor holds one vendor's settings. Budget/window feed the shared rate
// limit manager; min_interval is enforced inside the adapter itself since
// vendor pacing can be stricter than the shared budget.
type Vendor struct {
	Enabled           bool          `mapstructure:"enabled"`
	APIKey            string        `mapstructure:"api_key"`
	Endpoint          string        `mapstructure:"endpoint"`
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
	MinInterval       time.Duration `mapstructure:"min_interval"`
}

type Intervals struct {
	Realtime   time.Duration `mapstructure:"realtime"`
	Historical time.Duration `mapstructure:"historical"`
}

type Validation struct {
	MaxChangePct    float64       `mapstructure:"max_change_pct"`
	MaxVolumeFactor float64       `mapstructure:"max_volume_factor"`
	MaxAge          time.Duration `mapstructure:"max_age"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
}

type Storage struct {
	RetentionDays int           `mapstructure:"retention_days"`
	LatestTTL     time.Duration `mapstructure:"latest_ttl"`
	AlertLogMax   int           `mapstructure:"alert_log_max"`
}

type Health struct {
	Interval    time.Duration `mapstructure:"interval"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
	HistorySize int           `mapstructure:"history_size"`
	LatencyWarn time.Duration `mapstructure:"latency_warn"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
	ConnCeiling int           `mapstructure:"conn_ceiling"`
}

type Logging struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from path (optional) plus QUOTEFEED_* environment
// variables over the built-in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("QUOTEFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.request_timeout_sec", 10)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("providers.primary", "alphavan")
	v.SetDefault("providers.fallbacks", []string{"finbar"})
	v.SetDefault("providers.alphavan.enabled", true)
	v.SetDefault("providers.alphavan.endpoint", "https://www.alphavantage.co/query")
	v.SetDefault("providers.alphavan.requests_per_window", 5)
	v.SetDefault("providers.alphavan.window", "1m")
	v.SetDefault("providers.alphavan.min_interval", "1s")
	v.SetDefault("providers.finbar.enabled", true)
	v.SetDefault("providers.finbar.endpoint", "https://finnhub.io/api/v1")
	v.SetDefault("providers.finbar.requests_per_window", 60)
	v.SetDefault("providers.finbar.window", "1m")
	v.SetDefault("providers.finbar.min_interval", "250ms")

	v.SetDefault("intervals.realtime", "30s")
	v.SetDefault("intervals.historical", "24h")

	v.SetDefault("symbols", []string{"AAPL", "MSFT", "GOOGL"})

	v.SetDefault("validation.max_change_pct", 50.0)
	v.SetDefault("validation.max_volume_factor", 10.0)
	v.SetDefault("validation.max_age", "5m")
	v.SetDefault("validation.fetch_timeout", "8s")

	v.SetDefault("storage.retention_days", 365)
	v.SetDefault("storage.latest_ttl", "2m")
	v.SetDefault("storage.alert_log_max", 500)

	v.SetDefault("health.interval", "30s")
	v.SetDefault("health.cooldown", "5m")
	v.SetDefault("health.history_size", 100)
	v.SetDefault("health.latency_warn", "1s")
	v.SetDefault("health.snapshot_ttl", "90s")
	v.SetDefault("health.conn_ceiling", 1000)

	v.SetDefault("logging.level", "info")
}

// Validate checks startup invariants.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	enabled := c.enabledProviders()
	if len(enabled) == 0 {
		return fmt.Errorf("at least one provider must be enabled")
	}
	if c.Providers.Primary == "" {
		return fmt.Errorf("providers.primary is required")
	}
	if !enabled[c.Providers.Primary] {
		return fmt.Errorf("providers.primary %q is not an enabled provider", c.Providers.Primary)
	}
	for _, f := range c.Providers.Fallbacks {
		if !enabled[f] {
			return fmt.Errorf("fallback provider %q is not an enabled provider", f)
		}
	}
	if c.Providers.AlphaVan.Enabled && c.Providers.AlphaVan.APIKey == "" {
		return fmt.Errorf("providers.alphavan.api_key is required when alphavan is enabled")
	}
	if c.Providers.FinBar.Enabled && c.Providers.FinBar.APIKey == "" {
		return fmt.Errorf("providers.finbar.api_key is required when finbar is enabled")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols must not be empty")
	}
	if c.Intervals.Realtime <= 0 {
		return fmt.Errorf("intervals.realtime must be positive")
	}
	if c.Intervals.Historical <= 0 {
		return fmt.Errorf("intervals.historical must be positive")
	}
	if c.Validation.MaxChangePct <= 0 {
		return fmt.Errorf("validation.max_change_pct must be positive")
	}
	if c.Storage.RetentionDays < 1 {
		return fmt.Errorf("storage.retention_days must be at least 1")
	}
	if c.Health.Interval <= 0 {
		return fmt.Errorf("health.interval must be positive")
	}
	if c.Health.Cooldown < 0 {
		return fmt.Errorf("health.cooldown must not be negative")
	}
	if c.Health.HistorySize < 1 {
		return fmt.Errorf("health.history_size must be at least 1")
	}
	return nil
}

func (c *Config) enabledProviders() map[string]bool {
	out := make(map[string]bool, 2)
	if c.Providers.AlphaVan.Enabled {
		out["alphavan"] = true
	}
	if c.Providers.FinBar.Enabled {
		out["finbar"] = true
	}
	return out
}

// FailoverOrder returns the primary followed by the configured fallbacks.
func (c *Config) FailoverOrder() []string {
	out := make([]string, 0, 1+len(c.Providers.Fallbacks))
	out = append(out, c.Providers.Primary)
	for _, f := range c.Providers.Fallbacks {
		if f != c.Providers.Primary {
			out = append(out, f)
		}
	}
	return out
}

// Retention converts the configured retention to a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Storage.RetentionDays) * 24 * time.Hour
}
