package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. It is loaded and
// validated once at startup and passed by reference to the components that
// need it; nothing mutates it afterwards.
type Config struct {
	Provider   ProviderConfig   `yaml:"provider" mapstructure:"provider"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Classifier ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
	Ranker     RankerConfig     `yaml:"ranker" mapstructure:"ranker"`
	MeshBlocks MeshBlocksConfig `yaml:"meshblocks" mapstructure:"meshblocks"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Pool       PoolConfig       `yaml:"pool" mapstructure:"pool"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ConfigurationError reports a missing or invalid required setting.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// ProviderConfig configures the upstream property-data provider.
type ProviderConfig struct {
	// Name selects the provider implementation: "http" or "mock".
	Name    string `yaml:"name" mapstructure:"name"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// Credential is an opaque bearer token; the exact auth scheme is owned
	// by the provider.
	Credential string `yaml:"credential" mapstructure:"credential"`

	TimeoutSecs    int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts    int      `yaml:"max_attempts" mapstructure:"max_attempts"`
	RatePerSec     float64  `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	PageSize       int      `yaml:"page_size" mapstructure:"page_size"`
	MaxPages       int      `yaml:"max_pages" mapstructure:"max_pages"`
	DefaultLimit   int      `yaml:"default_limit" mapstructure:"default_limit"`
	RequiredFields []string `yaml:"required_fields" mapstructure:"required_fields"`
}

// Timeout returns the per-call hard timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// CacheConfig configures the TTL response cache.
type CacheConfig struct {
	TTLMinutes int `yaml:"ttl_minutes" mapstructure:"ttl_minutes"`
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// ClassifierConfig configures the mesh block classifier.
type ClassifierConfig struct {
	BufferMeters float64 `yaml:"buffer_meters" mapstructure:"buffer_meters"`
	TopK         int     `yaml:"top_k" mapstructure:"top_k"`
}

// RankerConfig configures comparable similarity scoring. Weights and the
// mandatory-field policy are business rules, so they live in configuration
// rather than code.
type RankerConfig struct {
	Weights         WeightsConfig `yaml:"weights" mapstructure:"weights"`
	MandatoryFields []string      `yaml:"mandatory_fields" mapstructure:"mandatory_fields"`

	// MaxComparables caps the ranked output list. Zero means unlimited.
	MaxComparables int `yaml:"max_comparables" mapstructure:"max_comparables"`
}

// WeightsConfig holds the per-attribute similarity weights.
type WeightsConfig struct {
	Beds     float64 `yaml:"beds" mapstructure:"beds"`
	Baths    float64 `yaml:"baths" mapstructure:"baths"`
	Cars     float64 `yaml:"cars" mapstructure:"cars"`
	LandArea float64 `yaml:"land_area" mapstructure:"land_area"`
	Distance float64 `yaml:"distance" mapstructure:"distance"`
	Recency  float64 `yaml:"recency" mapstructure:"recency"`
}

// MeshBlocksConfig locates the boundary dataset.
type MeshBlocksConfig struct {
	// Path to a GeoJSON FeatureCollection or a .shp shapefile.
	Path string `yaml:"path" mapstructure:"path"`

	// Field names in the source attribute table.
	IDField       string `yaml:"id_field" mapstructure:"id_field"`
	CategoryField string `yaml:"category_field" mapstructure:"category_field"`
	SuburbField   string `yaml:"suburb_field" mapstructure:"suburb_field"`
}

// StoreConfig configures artifact persistence.
type StoreConfig struct {
	// DSN is the sqlite path, e.g. "comp-engine.db" or ":memory:".
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// PoolConfig bounds cross-request parallelism.
type PoolConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
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
	v.SetEnvPrefix("COMP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. The mock provider is the default so a bare invocation works
	// without upstream credentials.
	v.SetDefault("provider.name", "mock")
	v.SetDefault("provider.timeout_secs", 30)
	v.SetDefault("provider.max_attempts", 4)
	v.SetDefault("provider.rate_per_sec", 5)
	v.SetDefault("provider.page_size", 200)
	v.SetDefault("provider.max_pages", 50)
	v.SetDefault("provider.default_limit", 1000)
	v.SetDefault("provider.required_fields", []string{
		"beds", "baths", "cars", "land_area", "sale_date", "sale_price",
	})
	v.SetDefault("cache.ttl_minutes", 15)
	v.SetDefault("classifier.buffer_meters", 1000)
	v.SetDefault("classifier.top_k", 5)
	v.SetDefault("ranker.weights.beds", 0.20)
	v.SetDefault("ranker.weights.baths", 0.15)
	v.SetDefault("ranker.weights.cars", 0.10)
	v.SetDefault("ranker.weights.land_area", 0.15)
	v.SetDefault("ranker.weights.distance", 0.25)
	v.SetDefault("ranker.weights.recency", 0.15)
	v.SetDefault("ranker.max_comparables", 10)
	v.SetDefault("meshblocks.id_field", "MB_CODE")
	v.SetDefault("meshblocks.category_field", "MB_CATEGORY")
	v.SetDefault("meshblocks.suburb_field", "SUBURB")
	v.SetDefault("store.dsn", "comp-engine.db")
	v.SetDefault("pool.workers", 4)
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required settings once at startup.
func (c *Config) Validate() error {
	if c.Provider.Name == "http" {
		if c.Provider.BaseURL == "" {
			return &ConfigurationError{Key: "provider.base_url", Reason: "required for the http provider"}
		}
		if c.Provider.Credential == "" {
			return &ConfigurationError{Key: "provider.credential", Reason: "required for the http provider"}
		}
	}
	if c.Provider.TimeoutSecs <= 0 {
		return &ConfigurationError{Key: "provider.timeout_secs", Reason: "must be positive"}
	}
	if c.Provider.MaxAttempts <= 0 {
		return &ConfigurationError{Key: "provider.max_attempts", Reason: "must be positive"}
	}
	if c.Cache.TTLMinutes <= 0 {
		return &ConfigurationError{Key: "cache.ttl_minutes", Reason: "must be positive"}
	}
	if c.Classifier.BufferMeters <= 0 {
		return &ConfigurationError{Key: "classifier.buffer_meters", Reason: "must be positive"}
	}
	if c.Classifier.TopK <= 0 {
		return &ConfigurationError{Key: "classifier.top_k", Reason: "must be positive"}
	}
	if c.Pool.Workers <= 0 {
		return &ConfigurationError{Key: "pool.workers", Reason: "must be positive"}
	}
	w := c.Ranker.Weights
	if w.Beds < 0 || w.Baths < 0 || w.Cars < 0 || w.LandArea < 0 || w.Distance < 0 || w.Recency < 0 {
		return &ConfigurationError{Key: "ranker.weights", Reason: "weights must not be negative"}
	}
	if w.Beds+w.Baths+w.Cars+w.LandArea+w.Distance+w.Recency == 0 {
		return &ConfigurationError{Key: "ranker.weights", Reason: "at least one weight must be positive"}
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
