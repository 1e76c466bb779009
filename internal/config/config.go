// Package config handles configuration management with validation
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig         `yaml:"app"`
	Server      ServerConfig      `yaml:"server"`
	System      SystemConfig      `yaml:"system"`
	Risk        RiskConfig        `yaml:"risk"`
	Limits      LimitsConfig      `yaml:"limits"`
	Feed        FeedConfig        `yaml:"feed"`
	Store       StoreConfig       `yaml:"store"`
	Cache       CacheConfig       `yaml:"cache"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Environment string `yaml:"environment" validate:"required,oneof=development staging production"`
}

// ServerConfig contains the HTTP API settings
type ServerConfig struct {
	Addr               string   `yaml:"addr" validate:"required"`
	ReadTimeoutSec     int      `yaml:"read_timeout_sec" validate:"min=1,max=300"`
	WriteTimeoutSec    int      `yaml:"write_timeout_sec" validate:"min=1,max=300"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	RateLimitPerSecond float64  `yaml:"rate_limit_per_second" validate:"min=0"`
	RateLimitBurst     int      `yaml:"rate_limit_burst" validate:"min=0"`
	MaxWSConnections   int      `yaml:"max_ws_connections" validate:"min=1,max=100000"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
}

// RiskConfig contains assessment parameters
type RiskConfig struct {
	CacheTTLSec           int     `yaml:"cache_ttl_sec" validate:"min=1,max=86400"`
	MaintenanceMarginRate float64 `yaml:"maintenance_margin_rate" validate:"gt=0,lt=1"`
	AssessmentTimeoutSec  int     `yaml:"assessment_timeout_sec" validate:"min=1,max=300"`
}

// LimitsConfig controls the scheduled breach sweep
type LimitsConfig struct {
	MonitorEnabled  bool   `yaml:"monitor_enabled"`
	MonitorSchedule string `yaml:"monitor_schedule"`
}

// FeedConfig selects the position source
type FeedConfig struct {
	Type      string            `yaml:"type" validate:"required,oneof=memory http binance"`
	UseLedger bool              `yaml:"use_ledger"`
	HTTP      HTTPFeedConfig    `yaml:"http"`
	Binance   BinanceFeedConfig `yaml:"binance"`
}

// HTTPFeedConfig configures the REST position service
type HTTPFeedConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
	Token      Secret `yaml:"token"`
}

// BinanceFeedConfig binds users to futures accounts
type BinanceFeedConfig struct {
	UseTestnet bool                   `yaml:"use_testnet"`
	Accounts   []BinanceAccountConfig `yaml:"accounts" validate:"dive"`
}

// BinanceAccountConfig is one user's futures account
type BinanceAccountConfig struct {
	UserID    string `yaml:"user_id" validate:"required"`
	APIKey    Secret `yaml:"api_key" validate:"required"`
	SecretKey Secret `yaml:"secret_key" validate:"required"`
}

// StoreConfig selects the limit/alert repository
type StoreConfig struct {
	Type string `yaml:"type" validate:"required,oneof=memory sqlite"`
	Path string `yaml:"path"`
}

// CacheConfig selects the assessment cache backend
type CacheConfig struct {
	Type  string      `yaml:"type" validate:"required,oneof=memory redis"`
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis cache
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password Secret `yaml:"password"`
	DB       int    `yaml:"db" validate:"min=0,max=15"`
}

// AlertsConfig configures alert delivery targets
type AlertsConfig struct {
	MinSeverity string         `yaml:"min_severity" validate:"required,oneof=info warning error critical"`
	Websocket   bool           `yaml:"websocket"`
	Slack       SlackConfig    `yaml:"slack"`
	Telegram    TelegramConfig `yaml:"telegram"`
	Kafka       KafkaConfig    `yaml:"kafka"`
}

type SlackConfig struct {
	WebhookURL Secret `yaml:"webhook_url"`
}

type TelegramConfig struct {
	BotToken Secret `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	SweepPoolSize   int `yaml:"sweep_pool_size" validate:"min=1,max=100"`
	SweepPoolBuffer int `yaml:"sweep_pool_buffer" validate:"min=1,max=10000"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port" validate:"min=0,max=65535"`
	EnableMetrics bool `yaml:"enable_metrics"`
	StdoutTraces  bool `yaml:"stdout_traces"`
	StdoutLogs    bool `yaml:"stdout_logs"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// CacheTTL returns the assessment cache TTL
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Risk.CacheTTLSec) * time.Second
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate checks struct tags first, then cross-field rules
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateTags(); err != nil {
		errs = append(errs, err.Error())
	}

	for _, check := range []func() error{
		c.validateFeedConfig,
		c.validateStoreConfig,
		c.validateCacheConfig,
		c.validateAlertsConfig,
		c.validateLimitsConfig,
	} {
		if err := check(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateTags() error {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	err := v.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		msgs = append(msgs, ValidationError{
			Field:   field,
			Value:   fe.Value(),
			Message: fmt.Sprintf("failed '%s' check %s", fe.Tag(), fe.Param()),
		}.Error())
	}
	return errors.New(strings.Join(msgs, "\n"))
}

func (c *Config) validateFeedConfig() error {
	switch c.Feed.Type {
	case "http":
		if c.Feed.HTTP.BaseURL == "" {
			return ValidationError{
				Field:   "feed.http.base_url",
				Message: "base url is required for the http feed",
			}
		}
	case "binance":
		if len(c.Feed.Binance.Accounts) == 0 {
			return ValidationError{
				Field:   "feed.binance.accounts",
				Message: "at least one account is required for the binance feed",
			}
		}
		seen := make(map[string]bool, len(c.Feed.Binance.Accounts))
		for _, acc := range c.Feed.Binance.Accounts {
			if seen[acc.UserID] {
				return ValidationError{
					Field:   "feed.binance.accounts",
					Value:   acc.UserID,
					Message: "user bound to more than one account",
				}
			}
			seen[acc.UserID] = true
		}
	}
	return nil
}

func (c *Config) validateStoreConfig() error {
	if c.Store.Type == "sqlite" && c.Store.Path == "" {
		return ValidationError{
			Field:   "store.path",
			Message: "path is required for the sqlite store",
		}
	}
	return nil
}

func (c *Config) validateCacheConfig() error {
	if c.Cache.Type == "redis" && c.Cache.Redis.Addr == "" {
		return ValidationError{
			Field:   "cache.redis.addr",
			Message: "address is required for the redis cache",
		}
	}
	return nil
}

func (c *Config) validateAlertsConfig() error {
	if len(c.Alerts.Kafka.Brokers) > 0 && c.Alerts.Kafka.Topic == "" {
		return ValidationError{
			Field:   "alerts.kafka.topic",
			Message: "topic is required when brokers are set",
		}
	}
	if c.Alerts.Telegram.BotToken != "" && c.Alerts.Telegram.ChatID == "" {
		return ValidationError{
			Field:   "alerts.telegram.chat_id",
			Message: "chat id is required when a bot token is set",
		}
	}
	return nil
}

func (c *Config) validateLimitsConfig() error {
	if !c.Limits.MonitorEnabled {
		return nil
	}
	if _, err := cron.ParseStandard(c.Limits.MonitorSchedule); err != nil {
		return ValidationError{
			Field:   "limits.monitor_schedule",
			Value:   c.Limits.MonitorSchedule,
			Message: fmt.Sprintf("invalid cron schedule: %v", err),
		}
	}
	return nil
}

// String returns a YAML rendering of the configuration with secrets redacted
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

// DefaultConfig returns a configuration that runs fully in memory
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "risk_engine",
			Environment: "development",
		},
		Server: ServerConfig{
			Addr:               ":8080",
			ReadTimeoutSec:     10,
			WriteTimeoutSec:    30,
			AllowedOrigins:     []string{"*"},
			RateLimitPerSecond: 20,
			RateLimitBurst:     40,
			MaxWSConnections:   1000,
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Risk: RiskConfig{
			CacheTTLSec:           300,
			MaintenanceMarginRate: 0.05,
			AssessmentTimeoutSec:  10,
		},
		Limits: LimitsConfig{
			MonitorEnabled:  false,
			MonitorSchedule: "@every 1m",
		},
		Feed: FeedConfig{
			Type: "memory",
			HTTP: HTTPFeedConfig{TimeoutSec: 5},
		},
		Store: StoreConfig{
			Type: "memory",
		},
		Cache: CacheConfig{
			Type: "memory",
		},
		Alerts: AlertsConfig{
			MinSeverity: "warning",
			Websocket:   true,
		},
		Concurrency: ConcurrencyConfig{
			SweepPoolSize:   8,
			SweepPoolBuffer: 256,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
	}
}
