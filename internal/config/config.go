package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Storage    StorageConfig    `mapstructure:"storage"`
	API        APIConfig        `mapstructure:"api"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// PolymarketConfig holds Gamma API client and cache configuration
type PolymarketConfig struct {
	GammaAPIURL         string        `mapstructure:"gamma_api_url"`
	Timeout             time.Duration `mapstructure:"timeout"`
	PageSize            int           `mapstructure:"page_size"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryDelayBase      time.Duration `mapstructure:"retry_delay_base"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
}

// MonitorConfig holds polling and volatility detection configuration
type MonitorConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	UniverseLimit   int           `mapstructure:"universe_limit"`
	SortField       string        `mapstructure:"sort_field"` // volume24hr: the upstream liquidity sort is unreliable
	Ascending       bool          `mapstructure:"ascending"`
	LiquidityFloor  float64       `mapstructure:"liquidity_floor"`
	Threshold       float64       `mapstructure:"threshold"`
	Window          time.Duration `mapstructure:"window"`
	WindowTolerance time.Duration `mapstructure:"window_tolerance"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
	HistorySize     int           `mapstructure:"history_size"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	SendInterval   time.Duration `mapstructure:"send_interval"`
	QueueSize      int           `mapstructure:"queue_size"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout"`
}

// StorageConfig holds the alert journal configuration
type StorageConfig struct {
	DBPath    string `mapstructure:"db_path"`
	MaxAlerts int    `mapstructure:"max_alerts"`
}

// APIConfig holds the read-only HTTP query surface configuration
type APIConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ListenAddr   string `mapstructure:"listen_addr"`
	DefaultLimit int    `mapstructure:"default_limit"`
	MaxLimit     int    `mapstructure:"max_limit"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EnvPrefix is prepended to every environment override, e.g. POLYSTATICS_MONITOR_THRESHOLD.
const EnvPrefix = "POLYSTATICS"

// Load reads configuration from an optional file, a .env file and environment variables.
// A missing config file is not an error; defaults and environment apply.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Accept the bare names used by existing deployments.
	if err := v.BindEnv("telegram.bot_token", EnvPrefix+"_TELEGRAM_BOT_TOKEN", "TELEGRAM_BOT_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}
	if err := v.BindEnv("telegram.chat_id", EnvPrefix+"_TELEGRAM_CHAT_ID", "TELEGRAM_CHAT_ID"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Polymarket defaults
	v.SetDefault("polymarket.gamma_api_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.timeout", "10s")
	v.SetDefault("polymarket.page_size", 500) // upstream hard cap per request
	v.SetDefault("polymarket.cache_ttl", "2s")
	v.SetDefault("polymarket.max_retries", 1)
	v.SetDefault("polymarket.retry_delay_base", "200ms")
	v.SetDefault("polymarket.max_idle_conns", 100)
	v.SetDefault("polymarket.max_idle_conns_per_host", 20)
	v.SetDefault("polymarket.idle_conn_timeout", "90s")

	// Monitor defaults
	v.SetDefault("monitor.poll_interval", "2s")
	v.SetDefault("monitor.universe_limit", 5700)
	v.SetDefault("monitor.sort_field", "volume24hr")
	v.SetDefault("monitor.ascending", false)
	v.SetDefault("monitor.liquidity_floor", 5000.0)
	v.SetDefault("monitor.threshold", 0.10)
	v.SetDefault("monitor.window", "5m")
	v.SetDefault("monitor.window_tolerance", "10s")
	v.SetDefault("monitor.cooldown", "5m")
	v.SetDefault("monitor.history_size", 200)

	// Telegram defaults
	v.SetDefault("telegram.enabled", true)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.send_interval", "500ms")
	v.SetDefault("telegram.queue_size", 256)
	v.SetDefault("telegram.drain_timeout", "10s")

	// Storage defaults
	v.SetDefault("storage.db_path", ":memory:")
	v.SetDefault("storage.max_alerts", 1000)

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen_addr", ":8000")
	v.SetDefault("api.default_limit", 20)
	v.SetDefault("api.max_limit", 5700)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Polymarket config
	if c.Polymarket.GammaAPIURL == "" {
		return fmt.Errorf("polymarket.gamma_api_url is required")
	}
	if c.Polymarket.Timeout <= 0 {
		return fmt.Errorf("polymarket.timeout must be positive")
	}
	if c.Polymarket.PageSize < 1 || c.Polymarket.PageSize > 500 {
		return fmt.Errorf("polymarket.page_size must be between 1 and 500")
	}
	if c.Polymarket.CacheTTL < 0 {
		return fmt.Errorf("polymarket.cache_ttl must not be negative")
	}
	if c.Polymarket.MaxRetries < 1 {
		return fmt.Errorf("polymarket.max_retries must be at least 1")
	}

	// Validate Monitor config
	if c.Monitor.PollInterval < 500*time.Millisecond {
		return fmt.Errorf("monitor.poll_interval must be at least 500ms")
	}
	if c.Monitor.UniverseLimit < 1 {
		return fmt.Errorf("monitor.universe_limit must be at least 1")
	}
	if c.Monitor.SortField == "" {
		return fmt.Errorf("monitor.sort_field is required")
	}
	if c.Monitor.LiquidityFloor < 0 {
		return fmt.Errorf("monitor.liquidity_floor must not be negative")
	}
	if c.Monitor.Threshold <= 0.0 || c.Monitor.Threshold > 1.0 {
		return fmt.Errorf("monitor.threshold must be in (0.0, 1.0]")
	}
	if c.Monitor.Window <= 0 {
		return fmt.Errorf("monitor.window must be positive")
	}
	if c.Monitor.WindowTolerance < 0 || c.Monitor.WindowTolerance >= c.Monitor.Window {
		return fmt.Errorf("monitor.window_tolerance must be in [0, window)")
	}
	if c.Monitor.Cooldown < 0 {
		return fmt.Errorf("monitor.cooldown must not be negative")
	}
	if c.Monitor.HistorySize < 2 {
		return fmt.Errorf("monitor.history_size must be at least 2")
	}
	// The history has to reach back far enough to hold a sample inside the tolerance band.
	span := time.Duration(c.Monitor.HistorySize) * c.Monitor.PollInterval
	if span < c.Monitor.Window-c.Monitor.WindowTolerance {
		return fmt.Errorf("monitor.history_size * poll_interval (%v) must cover window - window_tolerance", span)
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Telegram.QueueSize < 1 {
		return fmt.Errorf("telegram.queue_size must be at least 1")
	}
	if c.Telegram.DrainTimeout <= 0 {
		return fmt.Errorf("telegram.drain_timeout must be positive")
	}

	// Validate Storage config
	if c.Storage.MaxAlerts < 1 {
		return fmt.Errorf("storage.max_alerts must be at least 1")
	}

	// Validate API config
	if c.API.Enabled && c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr is required when the api is enabled")
	}
	if c.API.DefaultLimit < 1 || c.API.DefaultLimit > c.API.MaxLimit {
		return fmt.Errorf("api.default_limit must be between 1 and api.max_limit")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text, console")
	}

	return nil
}
