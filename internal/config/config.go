// Package config loads engine settings from a config file and the
// environment. Environment variables use the UPDOWN_ prefix and override
// file values, so UPDOWN_SERVER_PORT beats server.port.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the full process configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Store  StoreConfig  `mapstructure:"store"`
	Oracle OracleConfig `mapstructure:"oracle"`
	Market MarketConfig `mapstructure:"market"`
}

// ServerConfig covers the HTTP listener and its guards.
type ServerConfig struct {
	Port           int     `mapstructure:"port"`
	AdminKey       string  `mapstructure:"admin_key"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// StoreConfig selects the persistence backend. An empty DatabaseURL falls
// back to the in-memory store; an empty RedisURL skips the cache layer.
type StoreConfig struct {
	DatabaseURL string        `mapstructure:"database_url"`
	RedisURL    string        `mapstructure:"redis_url"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

// OracleConfig points at the price feed. An empty URL selects the static
// feed, which is only useful for local testing.
type OracleConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MarketConfig seeds the market parameters on first boot. Once the engine
// state exists these are ignored; use the config endpoint to change them.
type MarketConfig struct {
	RoundSeconds uint64 `mapstructure:"round_seconds"`
	MinimumBet   string `mapstructure:"minimum_bet"`
	FeeBps       int64  `mapstructure:"fee_bps"`
}

// MinimumBetDecimal parses the configured minimum bet.
func (m MarketConfig) MinimumBetDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(m.MinimumBet)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid minimum_bet %q: %w", m.MinimumBet, err)
	}
	return d, nil
}

// Load reads config.yaml from the working directory (if present) and the
// environment, applying defaults for everything unset.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.admin_key", "")
	v.SetDefault("server.rate_limit_rps", 20.0)
	v.SetDefault("server.rate_limit_burst", 40)
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.redis_url", "")
	v.SetDefault("store.cache_ttl", 5*time.Second)
	v.SetDefault("oracle.url", "")
	v.SetDefault("oracle.timeout", 5*time.Second)
	v.SetDefault("market.round_seconds", 300)
	v.SetDefault("market.minimum_bet", "1")
	v.SetDefault("market.fee_bps", 100)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("UPDOWN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if cfg.Market.RoundSeconds == 0 {
		return nil, fmt.Errorf("market.round_seconds must be positive")
	}
	return &cfg, nil
}
