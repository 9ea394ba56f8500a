// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exbroker/internal/broker"
	"github.com/tathienbao/exbroker/internal/broker/paper"
	"github.com/tathienbao/exbroker/internal/stream"
	"github.com/tathienbao/exbroker/internal/types"
	"gopkg.in/yaml.v3"
)

// Config represents the full application configuration.
type Config struct {
	Broker         BrokerConfig      `yaml:"broker"`
	Exchange       ExchangeConfig    `yaml:"exchange"`
	Paper          PaperConfig       `yaml:"paper"`
	Stream         StreamConfig      `yaml:"stream"`
	Persistence    PersistenceConfig `yaml:"persistence"`
	Metrics        MetricsConfig     `yaml:"metrics"`
	Shutdown       ShutdownConfig    `yaml:"shutdown"`
	TickIntervalMs int               `yaml:"tick_interval_ms"`
}

// BrokerConfig holds broker settings.
type BrokerConfig struct {
	Currency   string            `yaml:"currency"`
	Preset     string            `yaml:"preset"`      // default, binance, kraken, bitmex
	OrderTypes map[string]string `yaml:"order_types"` // abstract type -> exchange name
	Closed     *PredicateConfig  `yaml:"closed"`
	Canceled   *PredicateConfig  `yaml:"canceled"`
	Debug      bool              `yaml:"debug"`
}

// PredicateConfig overrides a status predicate: the order field to test and
// the value that marks the status.
type PredicateConfig struct {
	Key   string `yaml:"key"`
	Value any    `yaml:"value"`
}

func (p PredicateConfig) toPredicate() broker.Predicate {
	return broker.Predicate{Key: p.Key, Value: p.Value}
}

// ExchangeConfig holds connectivity settings.
type ExchangeConfig struct {
	Type               string `yaml:"type"` // paper
	RateLimitPerSecond int    `yaml:"rate_limit_per_second"`
}

// PaperConfig holds simulated exchange settings.
type PaperConfig struct {
	Currency       string  `yaml:"currency"`
	InitialCash    float64 `yaml:"initial_cash"`
	CommissionRate float64 `yaml:"commission_rate"`
	FillChunks     int     `yaml:"fill_chunks"`
	FillDelayMs    int     `yaml:"fill_delay_ms"`
}

// StreamConfig holds user-data stream settings.
type StreamConfig struct {
	URL             string `yaml:"url"`
	InitialDelayMs  int    `yaml:"initial_delay_ms"`
	MaxDelayMs      int    `yaml:"max_delay_ms"`
	MaxRetries      int    `yaml:"max_retries"`
	PingIntervalSec int    `yaml:"ping_interval_sec"`
}

// PersistenceConfig holds journal settings.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// ShutdownConfig holds shutdown settings.
type ShutdownConfig struct {
	TimeoutSec       int  `yaml:"timeout_sec"`
	CancelOpenOrders bool `yaml:"cancel_open_orders"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate fills defaults and validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Broker validation
	if c.Broker.Currency == "" {
		c.Broker.Currency = "USDT"
	}
	if _, err := broker.PresetMapping(c.Broker.Preset); err != nil {
		errs = append(errs, fmt.Sprintf("broker.preset '%s' is not supported", c.Broker.Preset))
	}
	for name, exName := range c.Broker.OrderTypes {
		t, err := types.ParseOrderType(name)
		if err != nil || t == types.OrderTypeUnset {
			errs = append(errs, fmt.Sprintf("broker.order_types: unknown order type '%s'", name))
		}
		if exName == "" {
			errs = append(errs, fmt.Sprintf("broker.order_types.%s must not be empty", name))
		}
	}
	if c.Broker.Closed != nil && c.Broker.Closed.Key == "" {
		errs = append(errs, "broker.closed.key is required")
	}
	if c.Broker.Canceled != nil && c.Broker.Canceled.Key == "" {
		errs = append(errs, "broker.canceled.key is required")
	}

	// Exchange validation
	if c.Exchange.Type == "" {
		c.Exchange.Type = "paper"
	}
	if c.Exchange.Type != "paper" {
		errs = append(errs, "exchange.type must be 'paper'")
	}
	if c.Exchange.RateLimitPerSecond < 0 {
		errs = append(errs, "exchange.rate_limit_per_second must not be negative")
	}

	// Paper validation
	if c.Paper.Currency == "" {
		c.Paper.Currency = c.Broker.Currency
	}
	if c.Paper.InitialCash == 0 {
		c.Paper.InitialCash = 10000
	}
	if c.Paper.InitialCash < 0 {
		errs = append(errs, "paper.initial_cash must be positive")
	}
	if c.Paper.CommissionRate < 0 || c.Paper.CommissionRate > 0.1 {
		errs = append(errs, "paper.commission_rate must be between 0 and 0.1")
	}
	if c.Paper.FillChunks <= 0 {
		c.Paper.FillChunks = 1 // default
	}
	if c.Paper.FillDelayMs < 0 {
		errs = append(errs, "paper.fill_delay_ms must not be negative")
	}

	// Stream validation
	if c.Stream.URL != "" && !strings.HasPrefix(c.Stream.URL, "ws://") && !strings.HasPrefix(c.Stream.URL, "wss://") {
		errs = append(errs, "stream.url must be a ws:// or wss:// url")
	}
	if c.Stream.MaxRetries < 0 {
		errs = append(errs, "stream.max_retries must not be negative")
	}
	if c.Stream.InitialDelayMs > 0 && c.Stream.MaxDelayMs > 0 && c.Stream.MaxDelayMs < c.Stream.InitialDelayMs {
		errs = append(errs, "stream.max_delay_ms must not be below stream.initial_delay_ms")
	}

	// Persistence validation
	if c.Persistence.Enabled && c.Persistence.Path == "" {
		errs = append(errs, "persistence.path is required when persistence is enabled")
	}

	// Metrics validation
	if c.Metrics.Enabled {
		if c.Metrics.Port == 0 {
			c.Metrics.Port = 9102
		}
		if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
			errs = append(errs, "metrics.port must be between 1 and 65535")
		}
		if c.Metrics.Path == "" {
			c.Metrics.Path = "/metrics"
		}
	}

	// Shutdown and tick defaults
	if c.Shutdown.TimeoutSec <= 0 {
		c.Shutdown.TimeoutSec = 10
	}
	if c.TickIntervalMs <= 0 {
		c.TickIntervalMs = 1000
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// ToMapping builds the broker mapping from the preset and its overrides.
func (c *Config) ToMapping() (broker.Mapping, error) {
	m, err := broker.PresetMapping(c.Broker.Preset)
	if err != nil {
		return broker.Mapping{}, err
	}

	var o broker.Mapping
	if len(c.Broker.OrderTypes) > 0 {
		o.OrderTypes = make(map[types.OrderType]string, len(c.Broker.OrderTypes))
		for name, exName := range c.Broker.OrderTypes {
			t, err := types.ParseOrderType(name)
			if err != nil {
				return broker.Mapping{}, err
			}
			o.OrderTypes[t] = exName
		}
	}
	if c.Broker.Closed != nil {
		o.Closed = c.Broker.Closed.toPredicate()
	}
	if c.Broker.Canceled != nil {
		o.Canceled = c.Broker.Canceled.toPredicate()
	}

	return m.With(o), nil
}

// ToPaperConfig converts to paper.Config.
func (c *Config) ToPaperConfig() paper.Config {
	return paper.Config{
		Currency:       c.Paper.Currency,
		InitialCash:    decimal.NewFromFloat(c.Paper.InitialCash),
		CommissionRate: decimal.NewFromFloat(c.Paper.CommissionRate),
		FillChunks:     c.Paper.FillChunks,
		FillDelay:      time.Duration(c.Paper.FillDelayMs) * time.Millisecond,
	}
}

// ToStreamConfig converts to stream.Config, keeping listener defaults for
// unset fields.
func (c *Config) ToStreamConfig() stream.Config {
	cfg := stream.DefaultConfig()
	cfg.URL = c.Stream.URL
	if c.Stream.InitialDelayMs > 0 {
		cfg.InitialDelay = time.Duration(c.Stream.InitialDelayMs) * time.Millisecond
	}
	if c.Stream.MaxDelayMs > 0 {
		cfg.MaxDelay = time.Duration(c.Stream.MaxDelayMs) * time.Millisecond
	}
	if c.Stream.MaxRetries > 0 {
		cfg.MaxRetries = c.Stream.MaxRetries
	}
	if c.Stream.PingIntervalSec > 0 {
		cfg.PingInterval = time.Duration(c.Stream.PingIntervalSec) * time.Second
	}
	return cfg
}

// ShutdownTimeout returns the shutdown timeout duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Shutdown.TimeoutSec) * time.Second
}

// TickInterval returns the notification drain interval.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}
