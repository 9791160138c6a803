package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/parcelpicker/internal/lookup"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Lookup    lookup.Settings `yaml:"lookup" mapstructure:"lookup"`
	Provider  ProviderConfig  `yaml:"provider" mapstructure:"provider"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend. For sqlite, DatabaseURL is a
// file path.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ProviderConfig configures the parcel layer, the geocoder and the shared
// outbound transport.
type ProviderConfig struct {
	ParcelQueryURL   string `yaml:"parcel_query_url" mapstructure:"parcel_query_url"`
	GeocodeURL       string `yaml:"geocode_url" mapstructure:"geocode_url"`
	GeocodeBenchmark string `yaml:"geocode_benchmark" mapstructure:"geocode_benchmark"`
	SourceTag        string `yaml:"source_tag" mapstructure:"source_tag"`
	IDField          string `yaml:"id_field" mapstructure:"id_field"`
	OwnerField       string `yaml:"owner_field" mapstructure:"owner_field"`
	AddressField     string `yaml:"address_field" mapstructure:"address_field"`
	UserAgent        string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retries          int    `yaml:"retries" mapstructure:"retries"`
	RetryBackoffMs   int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	MinIntervalMs    int    `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
	CacheMaxEntries  int    `yaml:"cache_max_entries" mapstructure:"cache_max_entries"`
	CacheTTLMins     int    `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
}

// Timeout is the per-attempt request timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// MinInterval is the minimum spacing between outbound requests.
func (p ProviderConfig) MinInterval() time.Duration {
	return time.Duration(p.MinIntervalMs) * time.Millisecond
}

// CacheTTL is the lifetime of in-process provider cache entries.
func (p ProviderConfig) CacheTTL() time.Duration {
	return time.Duration(p.CacheTTLMins) * time.Minute
}

// AnthropicConfig holds Anthropic API settings for the text assistant.
type AnthropicConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
}

// Configured reports whether the assistant can be used.
func (a AnthropicConfig) Configured() bool {
	return a.Enabled && a.Key != ""
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host              string   `yaml:"host" mapstructure:"host"`
	Port              int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins    []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	SweepIntervalMins int      `yaml:"sweep_interval_mins" mapstructure:"sweep_interval_mins"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PARCEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	defaults := lookup.DefaultSettings()
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "parcelpicker.db")
	v.SetDefault("lookup.max_parcels", defaults.MaxParcels)
	v.SetDefault("lookup.max_requests", defaults.MaxRequests)
	v.SetDefault("lookup.adjacent_limit", defaults.AdjacentLimit)
	v.SetDefault("lookup.max_assistant_normalizations", defaults.MaxAssistantNormalizations)
	v.SetDefault("lookup.retention_days", defaults.RetentionDays)
	v.SetDefault("lookup.local_cache_scan_limit", defaults.LocalCacheScanLimit)
	v.SetDefault("provider.parcel_query_url", "")
	v.SetDefault("provider.geocode_url", "")
	v.SetDefault("provider.geocode_benchmark", "")
	v.SetDefault("provider.source_tag", "")
	v.SetDefault("provider.id_field", "")
	v.SetDefault("provider.owner_field", "")
	v.SetDefault("provider.address_field", "")
	v.SetDefault("provider.user_agent", "parcelpicker/1.0")
	v.SetDefault("provider.timeout_secs", 20)
	v.SetDefault("provider.retries", 2)
	v.SetDefault("provider.retry_backoff_ms", 800)
	v.SetDefault("provider.min_interval_ms", 150)
	v.SetDefault("provider.cache_max_entries", 2048)
	v.SetDefault("provider.cache_ttl_mins", 60)
	v.SetDefault("anthropic.enabled", false)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 200)
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8091)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.sweep_interval_mins", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration for the given command mode: "lookup" for
// one-shot and maintenance commands, "serve" for the HTTP API.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported (sqlite, postgres)", c.Store.Driver))
	}

	if err := c.Lookup.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Provider.TimeoutSecs <= 0 {
		errs = append(errs, "provider.timeout_secs must be > 0")
	}
	if c.Provider.Retries < 0 {
		errs = append(errs, "provider.retries must be >= 0")
	}
	if c.Provider.MinIntervalMs < 0 {
		errs = append(errs, "provider.min_interval_ms must be >= 0")
	}
	if c.Provider.CacheMaxEntries <= 0 {
		errs = append(errs, "provider.cache_max_entries must be > 0")
	}
	if c.Anthropic.Enabled && c.Anthropic.Key == "" {
		errs = append(errs, "anthropic.key is required when anthropic.enabled is set")
	}

	switch mode {
	case "lookup":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.SweepIntervalMins < 0 {
			errs = append(errs, "server.sweep_interval_mins must be >= 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
