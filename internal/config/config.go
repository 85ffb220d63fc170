// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	Venue     VenueConfig     `yaml:"venue"`
	Trading   TradingConfig   `yaml:"trading"`
	System    SystemConfig    `yaml:"system"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// VenueConfig contains exchange credentials and endpoints
type VenueConfig struct {
	APIKey     Secret `yaml:"api_key"`
	SecretKey  Secret `yaml:"secret_key"`
	Passphrase Secret `yaml:"passphrase"`
	BaseURL    string `yaml:"base_url"`    // Optional override for REST URL
	WSURL      string `yaml:"ws_url"`      // Optional override for private WS URL
	BrokerID   string `yaml:"broker_id"`   // Client order ID prefix
	RateLimit  int    `yaml:"rate_limit"`  // REST requests per second
	RateBurst  int    `yaml:"rate_burst"`  // REST burst allowance
}

// TradingConfig contains trading parameters
type TradingConfig struct {
	TradingPairs         []string `yaml:"trading_pairs"`
	ReconcileInterval    int      `yaml:"reconcile_interval"`     // seconds
	RulesRefreshInterval int      `yaml:"rules_refresh_interval"` // seconds
	FundingPollInterval  int      `yaml:"funding_poll_interval"`  // seconds
	CollateralAssets     []string `yaml:"collateral_assets"`
	Leverage             int      `yaml:"leverage"`
	LostOrderThreshold   int      `yaml:"lost_order_threshold"` // consecutive status-poll misses before an order is declared lost
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel     string `yaml:"log_level"`
	JournalPath  string `yaml:"journal_path"` // sqlite trade journal; empty disables persistence
	CancelOnExit bool   `yaml:"cancel_on_exit"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
	DebugExport   bool `yaml:"debug_export"` // mirror traces/logs to stdout
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

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Venue.BrokerID == "" {
		c.Venue.BrokerID = "okc"
	}
	if c.Venue.RateLimit <= 0 {
		c.Venue.RateLimit = 10
	}
	if c.Venue.RateBurst <= 0 {
		c.Venue.RateBurst = 20
	}
	if c.Trading.ReconcileInterval <= 0 {
		c.Trading.ReconcileInterval = 10
	}
	if c.Trading.RulesRefreshInterval <= 0 {
		c.Trading.RulesRefreshInterval = 3600
	}
	if c.Trading.FundingPollInterval <= 0 {
		c.Trading.FundingPollInterval = 120
	}
	if len(c.Trading.CollateralAssets) == 0 {
		c.Trading.CollateralAssets = []string{"USDT", "USDC"}
	}
	if c.Trading.Leverage <= 0 {
		c.Trading.Leverage = 1
	}
	if c.Trading.LostOrderThreshold <= 0 {
		c.Trading.LostOrderThreshold = 3
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.Telemetry.MetricsPort == 0 {
		c.Telemetry.MetricsPort = 9090
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateVenueConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateTradingConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateVenueConfig() error {
	if c.Venue.APIKey == "" {
		return ValidationError{
			Field:   "venue.api_key",
			Message: "API key is required",
		}
	}
	if c.Venue.SecretKey == "" {
		return ValidationError{
			Field:   "venue.secret_key",
			Message: "secret key is required",
		}
	}
	if c.Venue.Passphrase == "" {
		return ValidationError{
			Field:   "venue.passphrase",
			Message: "passphrase is required",
		}
	}
	return nil
}

func (c *Config) validateTradingConfig() error {
	if len(c.Trading.TradingPairs) == 0 {
		return ValidationError{
			Field:   "trading.trading_pairs",
			Message: "at least one trading pair is required",
		}
	}
	for _, pair := range c.Trading.TradingPairs {
		if !strings.Contains(pair, "-") {
			return ValidationError{
				Field:   "trading.trading_pairs",
				Value:   pair,
				Message: "trading pair must be BASE-QUOTE",
			}
		}
	}
	if c.Trading.Leverage > 125 {
		return ValidationError{
			Field:   "trading.leverage",
			Value:   c.Trading.Leverage,
			Message: "leverage must not exceed 125",
		}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

// ReconcileIntervalDuration returns the reconcile interval as a time.Duration
func (c *Config) ReconcileIntervalDuration() time.Duration {
	return time.Duration(c.Trading.ReconcileInterval) * time.Second
}

// RulesRefreshDuration returns the trading-rule refresh interval as a time.Duration
func (c *Config) RulesRefreshDuration() time.Duration {
	return time.Duration(c.Trading.RulesRefreshInterval) * time.Second
}

// FundingPollDuration returns the funding poll interval as a time.Duration
func (c *Config) FundingPollDuration() time.Duration {
	return time.Duration(c.Trading.FundingPollInterval) * time.Second
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	cfg := &Config{
		Venue: VenueConfig{
			APIKey:     "test_api_key",
			SecretKey:  "test_secret_key",
			Passphrase: "test_passphrase",
		},
		Trading: TradingConfig{
			TradingPairs: []string{"BTC-USDT"},
		},
		System: SystemConfig{
			LogLevel:     "INFO",
			CancelOnExit: true,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: false,
		},
	}
	cfg.applyDefaults()
	return cfg
}
