package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"optionflow/market"
	"optionflow/models"
)

type Config struct {
	Optionflow OptionflowConfig `yaml:"optionflow"`
	Market     MarketConfig     `yaml:"market"`
	Indices    []IndexConfig    `yaml:"indices"`
	Collector  CollectorConfig  `yaml:"collector"`
	Provider   ProviderConfig   `yaml:"provider"`
	Cache      CacheConfig      `yaml:"cache"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Storage    StorageConfig    `yaml:"storage"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type OptionflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type MarketConfig struct {
	Timezone string   `yaml:"timezone"`
	Open     string   `yaml:"open"`
	Close    string   `yaml:"close"`
	Holidays []string `yaml:"holidays"`
}

type IndexConfig struct {
	Name          string   `yaml:"name"`
	Enabled       bool     `yaml:"enabled"`
	StrikeStep    float64  `yaml:"strike_step"`
	ATMRounding   string   `yaml:"atm_rounding"`
	Offsets       []int    `yaml:"offsets"`
	Expiries      []string `yaml:"expiries"`
	ExpiryWeekday string   `yaml:"expiry_weekday"`
}

// ExpiryCodes returns the index's expiry buckets as typed codes.
func (ic IndexConfig) ExpiryCodes() ([]models.ExpiryCode, error) {
	out := make([]models.ExpiryCode, 0, len(ic.Expiries))
	for _, s := range ic.Expiries {
		code, err := models.ParseExpiryCode(s)
		if err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, nil
}

type CollectorConfig struct {
	Interval    time.Duration `yaml:"interval"`
	PassTimeout time.Duration `yaml:"pass_timeout"`
}

type ProviderConfig struct {
	Kind       string          `yaml:"kind"`
	Kite       KiteConfig      `yaml:"kite"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
	Retry      RetryConfig     `yaml:"retry"`
	Timeout    time.Duration   `yaml:"timeout"`
	QuoteChunk int             `yaml:"quote_chunk"`
	QuoteTTL   time.Duration   `yaml:"quote_ttl"`
}

type KiteConfig struct {
	APIKey         string        `yaml:"api_key"`
	AccessToken    string        `yaml:"access_token"`
	BaseURL        string        `yaml:"base_url"`
	InstrumentsTTL time.Duration `yaml:"instruments_ttl"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type CacheConfig struct {
	InstrumentsTTL time.Duration `yaml:"instruments_ttl"`
}

type ChannelsConfig struct {
	BatchBuffer int `yaml:"batch_buffer"`
}

type StorageConfig struct {
	CSV    CSVConfig    `yaml:"csv"`
	Influx InfluxConfig `yaml:"influx"`
	S3     S3Config     `yaml:"s3"`
}

type CSVConfig struct {
	Enabled bool   `yaml:"enabled"`
	Root    string `yaml:"root"`
}

type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
	Token   string `yaml:"token"`
}

type S3Config struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	PathStyle       bool          `yaml:"path_style"`
	Prefix          string        `yaml:"prefix"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	Compression     string        `yaml:"compression"`
}

type MetricsConfig struct {
	Addr       string           `yaml:"addr"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// EnabledIndices filters the configured indices down to the enabled ones.
func (c *Config) EnabledIndices() []IndexConfig {
	out := make([]IndexConfig, 0, len(c.Indices))
	for _, idx := range c.Indices {
		if idx.Enabled {
			out = append(out, idx)
		}
	}
	return out
}

var envConfigPaths = map[string]string{
	environmentProduction: "config/config.production.yml",
	environmentStaging:    "config/config.staging.yml",
}

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, "config/config.yml", envConfigPaths)

	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Market: MarketConfig{
			Timezone: "Asia/Kolkata",
			Open:     "09:15",
			Close:    "15:30",
		},
		Provider: ProviderConfig{
			Timeout:    10 * time.Second,
			QuoteChunk: 250,
			QuoteTTL:   2 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: ":2112",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override provider credentials from environment variables if available
	if config.Provider.Kind == "kite" {
		if v := os.Getenv("KITE_API_KEY"); v != "" {
			config.Provider.Kite.APIKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
			config.Provider.Kite.AccessToken = strings.TrimSpace(v)
		}
	}

	// Override Influx token from environment variables if available
	if config.Storage.Influx.Enabled {
		if v := os.Getenv("INFLUXDB_TOKEN"); v != "" {
			config.Storage.Influx.Token = strings.TrimSpace(v)
		}
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Optionflow.Name == "" {
		return fmt.Errorf("optionflow.name is required")
	}

	if cfg.Optionflow.Version == "" {
		return fmt.Errorf("optionflow.version is required")
	}

	if cfg.Collector.Interval <= 0 {
		return fmt.Errorf("collector.interval must be greater than 0")
	}
	if cfg.Collector.PassTimeout <= 0 {
		cfg.Collector.PassTimeout = cfg.Collector.Interval
	}

	if len(cfg.Indices) == 0 {
		return fmt.Errorf("at least one index must be configured")
	}
	enabled := 0
	for i := range cfg.Indices {
		idx := &cfg.Indices[i]
		if !models.KnownIndex(idx.Name) {
			return fmt.Errorf("indices[%d].name '%s' is not a supported index", i, idx.Name)
		}
		if !idx.Enabled {
			continue
		}
		enabled++
		if idx.StrikeStep <= 0 {
			return fmt.Errorf("index %s: strike_step must be greater than 0", idx.Name)
		}
		if len(idx.Offsets) == 0 {
			return fmt.Errorf("index %s: at least one offset is required", idx.Name)
		}
		if len(idx.Expiries) == 0 {
			return fmt.Errorf("index %s: at least one expiry bucket is required", idx.Name)
		}
		if _, err := idx.ExpiryCodes(); err != nil {
			return fmt.Errorf("index %s: %w", idx.Name, err)
		}
		if idx.ExpiryWeekday == "" {
			idx.ExpiryWeekday = "thursday"
		}
		if _, err := market.ParseWeekday(idx.ExpiryWeekday); err != nil {
			return fmt.Errorf("index %s: %w", idx.Name, err)
		}
		if _, err := market.ParseRounding(idx.ATMRounding); err != nil {
			return fmt.Errorf("index %s: %w", idx.Name, err)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one index must be enabled")
	}

	switch cfg.Provider.Kind {
	case "kite":
		if cfg.Provider.Kite.APIKey == "" || cfg.Provider.Kite.AccessToken == "" {
			return fmt.Errorf("provider.kite.api_key and provider.kite.access_token are required when the kite provider is selected")
		}
		if cfg.Provider.Kite.InstrumentsTTL <= 0 {
			cfg.Provider.Kite.InstrumentsTTL = 6 * time.Hour
		}
	case "sim":
		if IsProductionLike(AppEnvironment()) {
			return fmt.Errorf("provider.kind 'sim' is not allowed in %s", AppEnvironment())
		}
	default:
		return fmt.Errorf("provider.kind must be 'kite' or 'sim', got '%s'", cfg.Provider.Kind)
	}

	if cfg.Provider.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("provider.rate_limit.requests_per_second must be greater than 0")
	}
	if cfg.Provider.RateLimit.BurstSize <= 0 {
		return fmt.Errorf("provider.rate_limit.burst_size must be greater than 0")
	}
	if cfg.Provider.Retry.MaxAttempts < 1 {
		return fmt.Errorf("provider.retry.max_attempts must be at least 1")
	}
	if cfg.Provider.Retry.BaseDelay <= 0 {
		return fmt.Errorf("provider.retry.base_delay must be greater than 0")
	}
	if cfg.Provider.Retry.MaxDelay < cfg.Provider.Retry.BaseDelay {
		return fmt.Errorf("provider.retry.max_delay must be at least base_delay")
	}
	if cfg.Provider.Timeout <= 0 {
		return fmt.Errorf("provider.timeout must be greater than 0")
	}
	if cfg.Provider.QuoteChunk <= 0 {
		return fmt.Errorf("provider.quote_chunk must be greater than 0")
	}

	if cfg.Cache.InstrumentsTTL <= 0 {
		return fmt.Errorf("cache.instruments_ttl must be greater than 0")
	}

	if cfg.Channels.BatchBuffer <= 0 {
		return fmt.Errorf("channels.batch_buffer must be greater than 0")
	}

	if !cfg.Storage.CSV.Enabled && !cfg.Storage.Influx.Enabled && !cfg.Storage.S3.Enabled {
		return fmt.Errorf("at least one storage sink must be enabled")
	}

	if cfg.Storage.CSV.Enabled && cfg.Storage.CSV.Root == "" {
		return fmt.Errorf("storage.csv.root is required when CSV is enabled")
	}

	if cfg.Storage.Influx.Enabled {
		if cfg.Storage.Influx.URL == "" {
			return fmt.Errorf("storage.influx.url is required when Influx is enabled")
		}
		if cfg.Storage.Influx.Org == "" || cfg.Storage.Influx.Bucket == "" {
			return fmt.Errorf("storage.influx.org and storage.influx.bucket are required when Influx is enabled")
		}
		if cfg.Storage.Influx.Token == "" {
			return fmt.Errorf("storage.influx.token is required when Influx is enabled")
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
		if cfg.Storage.S3.FlushInterval <= 0 {
			return fmt.Errorf("storage.s3.flush_interval must be greater than 0 when S3 is enabled")
		}
	}

	if cfg.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required")
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
