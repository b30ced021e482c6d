// Package config loads process configuration from an optional YAML file and
// DESKRISK_-prefixed environment variables. Every modeling constant the
// core depends on (cadences, slippage, the margin-call multiplier) is a
// config key rather than a hard-coded literal.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full process configuration.
type Config struct {
	LogLevel string `mapstructure:"log_level"`
	HTTPAddr string `mapstructure:"http_addr"`
	DeskID   string `mapstructure:"desk_id"`

	ValuationInterval time.Duration `mapstructure:"valuation_interval"`
	FillDelay         time.Duration `mapstructure:"fill_delay"`
	SlippageBps       int64         `mapstructure:"slippage_bps"`
	SlippageSeed      int64         `mapstructure:"slippage_seed"`

	MarginCallMultiplier float64 `mapstructure:"margin_call_multiplier"`

	// Wallets maps account ids to USD balances for desk equity.
	Wallets map[string]float64 `mapstructure:"wallets"`

	// MarketDataURL enables the websocket feed client when non-empty.
	MarketDataURL     string   `mapstructure:"market_data_url"`
	MarketDataSymbols []string `mapstructure:"market_data_symbols"`

	DemoSeed bool `mapstructure:"demo_seed"`
}

// Load reads configuration from the given file (optional, "" skips it) and
// the environment, applying defaults for everything unset.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("http_addr", ":8090")
	v.SetDefault("desk_id", "MAIN_DESK")
	v.SetDefault("valuation_interval", "250ms")
	v.SetDefault("fill_delay", "400ms")
	v.SetDefault("slippage_bps", 5)
	v.SetDefault("slippage_seed", 1)
	v.SetDefault("margin_call_multiplier", 1.2)
	v.SetDefault("market_data_url", "")
	v.SetDefault("demo_seed", false)

	v.SetEnvPrefix("DESKRISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ValuationInterval <= 0 {
		return fmt.Errorf("valuation_interval must be positive, got %s", c.ValuationInterval)
	}
	if c.FillDelay < 0 {
		return fmt.Errorf("fill_delay must not be negative, got %s", c.FillDelay)
	}
	if c.SlippageBps < 0 {
		return fmt.Errorf("slippage_bps must not be negative, got %d", c.SlippageBps)
	}
	if c.MarginCallMultiplier <= 0 {
		return fmt.Errorf("margin_call_multiplier must be positive, got %f", c.MarginCallMultiplier)
	}
	if c.DeskID == "" {
		return fmt.Errorf("desk_id must not be empty")
	}
	return nil
}
