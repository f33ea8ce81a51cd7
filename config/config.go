package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string
	LogLevel    string

	// Store configuration
	StoreBackend      string
	RedisURL          string
	StoreMaxTxRetries int

	// Circuit breaker around the store
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	BreakerInterval     time.Duration
	BreakerTimeout      time.Duration

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	PubNubUserID       string

	// Local cache
	CachePath   string
	CacheMaxAge time.Duration

	// Ticket codes
	CodeSigningKey string

	// Scan rate limiting
	ScanRateLimit  int
	ScanRateWindow time.Duration

	// Monitoring
	EnableMetrics bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8090")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("store_backend", "redis")
	v.SetDefault("redis_url", "localhost:6379")
	v.SetDefault("store_max_tx_retries", 8)

	v.SetDefault("breaker_min_requests", 20)
	v.SetDefault("breaker_failure_ratio", 0.6)
	v.SetDefault("breaker_interval", "60s")
	v.SetDefault("breaker_timeout", "30s")

	v.SetDefault("pubnub_publish_key", "")
	v.SetDefault("pubnub_subscribe_key", "")
	v.SetDefault("pubnub_secret_key", "")
	v.SetDefault("pubnub_user_id", "event-ticket-server")

	v.SetDefault("cache_path", "pb_data/cache.db")
	v.SetDefault("cache_max_age", "30s")
	v.SetDefault("code_signing_key", "")

	v.SetDefault("scan_rate_limit", 30)
	v.SetDefault("scan_rate_window", "1m")

	v.SetDefault("enable_metrics", true)
}

// LoadConfig reads defaults, then ./config/config.yaml when present, then
// environment variables named after the upper cased keys.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath("./config")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.AutomaticEnv()

	return ParseConfig(v)
}

func ParseConfig(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		// Server
		Port:        v.GetString("port"),
		Environment: v.GetString("environment"),
		LogLevel:    v.GetString("log_level"),

		// Store
		StoreBackend:      v.GetString("store_backend"),
		RedisURL:          v.GetString("redis_url"),
		StoreMaxTxRetries: v.GetInt("store_max_tx_retries"),

		// Breaker
		BreakerMinRequests:  v.GetUint32("breaker_min_requests"),
		BreakerFailureRatio: v.GetFloat64("breaker_failure_ratio"),
		BreakerInterval:     v.GetDuration("breaker_interval"),
		BreakerTimeout:      v.GetDuration("breaker_timeout"),

		// PubNub
		PubNubPublishKey:   v.GetString("pubnub_publish_key"),
		PubNubSubscribeKey: v.GetString("pubnub_subscribe_key"),
		PubNubSecretKey:    v.GetString("pubnub_secret_key"),
		PubNubUserID:       v.GetString("pubnub_user_id"),

		CachePath:      v.GetString("cache_path"),
		CacheMaxAge:    v.GetDuration("cache_max_age"),
		CodeSigningKey: v.GetString("code_signing_key"),

		ScanRateLimit:  v.GetInt("scan_rate_limit"),
		ScanRateWindow: v.GetDuration("scan_rate_window"),

		EnableMetrics: v.GetBool("enable_metrics"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "redis", "memory":
	default:
		return fmt.Errorf("config: STORE_BACKEND must be redis or memory, got %q", c.StoreBackend)
	}
	if c.StoreMaxTxRetries <= 0 {
		return fmt.Errorf("config: STORE_MAX_TX_RETRIES must be positive, got %d", c.StoreMaxTxRetries)
	}
	if len(c.CodeSigningKey) > 64 {
		return errors.New("config: CODE_SIGNING_KEY must be at most 64 bytes")
	}
	if c.ScanRateLimit < 0 || c.ScanRateWindow < 0 {
		return errors.New("config: scan rate limit and window must not be negative")
	}
	if c.CacheMaxAge < 0 {
		return fmt.Errorf("config: CACHE_MAX_AGE must not be negative, got %v", c.CacheMaxAge)
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		return fmt.Errorf("config: BREAKER_FAILURE_RATIO must be in (0, 1], got %v", c.BreakerFailureRatio)
	}
	return nil
}

// PubNubEnabled reports whether enough keys are set to publish.
func (c *Config) PubNubEnabled() bool {
	return c.PubNubPublishKey != "" && c.PubNubSubscribeKey != ""
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
