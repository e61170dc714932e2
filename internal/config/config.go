// Package config loads server settings from defaults, an optional YAML file
// and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/atmx/auction-engine/internal/model"
	"github.com/atmx/auction-engine/internal/rules"
)

// Config is the full server configuration.
type Config struct {
	Port        string        `mapstructure:"port"`
	DatabaseURL string        `mapstructure:"database_url"`
	RedisURL    string        `mapstructure:"redis_url"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	LogLevel    string        `mapstructure:"log_level"`
	AutoMigrate bool          `mapstructure:"auto_migrate"`
	CORSOrigin  string        `mapstructure:"cors_origin"`
	Auction     AuctionConfig `mapstructure:"auction"`
}

// AuctionConfig holds the per-team limits and the budget table. Rules are
// keyed by Role.Key(): batsman, bowler, allrounder, wicketkeeper.
type AuctionConfig struct {
	MaxTokens    int                         `mapstructure:"max_tokens"`
	MaxSquadSize int                         `mapstructure:"max_squad_size"`
	FloorPrice   int                         `mapstructure:"floor_price"`
	Rules        map[string]model.BudgetRule `mapstructure:"rules"`
}

// Default returns the built-in configuration.
func Default() *Config {
	table := rules.Default()
	cfg := &Config{
		Port:       "8080",
		CacheTTL:   30 * time.Second,
		LogLevel:   "info",
		CORSOrigin: "*",
		Auction: AuctionConfig{
			MaxTokens:    1000,
			MaxSquadSize: 15,
			FloorPrice:   table.FloorPrice,
			Rules:        make(map[string]model.BudgetRule, len(model.Roles)),
		},
	}
	for _, role := range model.Roles {
		cfg.Auction.Rules[role.Key()] = table.Rules[role]
	}
	return cfg
}

// SetDefaults registers every key on v so file values and environment
// variables can override them.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("port", d.Port)
	v.SetDefault("database_url", d.DatabaseURL)
	v.SetDefault("redis_url", d.RedisURL)
	v.SetDefault("cache_ttl", d.CacheTTL)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("auto_migrate", d.AutoMigrate)
	v.SetDefault("cors_origin", d.CORSOrigin)

	v.SetDefault("auction.max_tokens", d.Auction.MaxTokens)
	v.SetDefault("auction.max_squad_size", d.Auction.MaxSquadSize)
	v.SetDefault("auction.floor_price", d.Auction.FloorPrice)
	for key, r := range d.Auction.Rules {
		prefix := "auction.rules." + key + "."
		v.SetDefault(prefix+"min_spend", r.MinSpend)
		v.SetDefault(prefix+"max_spend", r.MaxSpend)
		v.SetDefault(prefix+"min_players", r.MinPlayers)
		v.SetDefault(prefix+"max_players", r.MaxPlayers)
	}
}

// New returns a viper instance with defaults registered and environment
// lookup enabled. auction.max_tokens reads AUCTION_MAX_TOKENS.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// Load reads path (when set) into v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if _, err := cfg.RulesTable(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RulesTable builds and validates the budget table from the config.
func (c *Config) RulesTable() (*rules.Table, error) {
	if c.Auction.MaxTokens <= 0 {
		return nil, errors.New("config: auction.max_tokens must be positive")
	}
	if c.Auction.MaxSquadSize <= 0 {
		return nil, errors.New("config: auction.max_squad_size must be positive")
	}

	table := &rules.Table{
		Rules:      make(map[model.Role]model.BudgetRule, len(model.Roles)),
		FloorPrice: c.Auction.FloorPrice,
	}
	for key, r := range c.Auction.Rules {
		role, err := model.ParseRole(key)
		if err != nil {
			return nil, fmt.Errorf("config: auction.rules: %w", err)
		}
		// Aliases would collide with the canonical default keys.
		if key != role.Key() {
			return nil, fmt.Errorf("config: auction.rules.%s: use the key %q for %s", key, role.Key(), role)
		}
		table.Rules[role] = r
	}
	if err := table.Validate(c.Auction.MaxTokens, c.Auction.MaxSquadSize); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return table, nil
}
