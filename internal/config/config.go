// Package config loads the process-wide configuration from a YAML file
// and aggregates every subsystem's Config struct behind a single root.
// Every subsystem's own DefaultConfig() is set before unmarshal, so a YAML
// file only needs to override what differs from those defaults. A
// SCALPER_* environment variable overrides only a key that the YAML file
// itself sets; keys absent from the file are not read from the
// environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/atlas-desktop/scalper-core/internal/breaker"
	"github.com/atlas-desktop/scalper-core/internal/exit"
	"github.com/atlas-desktop/scalper-core/internal/portfolio"
	"github.com/atlas-desktop/scalper-core/internal/regime"
	"github.com/atlas-desktop/scalper-core/internal/risksizer"
	"github.com/atlas-desktop/scalper-core/internal/signal/v1"
)

// LoopConfig controls the trading loop's cycle cadence, universe, and the
// account-level safety caps enforced by the safety preflight
// (max open positions, max leverage, max daily loss).
type LoopConfig struct {
	Symbols          []string      `mapstructure:"symbols"`
	Timeframe        string        `mapstructure:"timeframe"`
	CycleInterval    time.Duration `mapstructure:"cycle_interval"`
	Leverage         float64       `mapstructure:"leverage"`
	MinConfidence    float64       `mapstructure:"min_confidence"`
	MaxOpenPositions int           `mapstructure:"max_open_positions"`
	MaxLeverage      float64       `mapstructure:"max_leverage"`
	MaxDailyLossPct  float64       `mapstructure:"max_daily_loss_pct"`
	FetchConcurrency int           `mapstructure:"fetch_concurrency"`
}

// DefaultLoopConfig returns the specification's default eight-symbol
// perpetual universe and a one-minute cycle.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		Symbols:          []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "ADAUSDT", "BNBUSDT", "XRPUSDT", "LTCUSDT", "DOGEUSDT"},
		Timeframe:        "1m",
		CycleInterval:    time.Minute,
		Leverage:         3.0,
		MinConfidence:    0.5,
		MaxOpenPositions: 3,
		MaxLeverage:      20,
		MaxDailyLossPct:  0.05,
		FetchConcurrency: 4,
	}
}

// VenueConfig selects and configures the execution venue adapter.
type VenueConfig struct {
	Name       string `mapstructure:"name"`
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	BaseURL    string `mapstructure:"base_url"`
	Testnet    bool   `mapstructure:"testnet"`
}

// DefaultVenueConfig defaults to the paper venue, which needs no
// credentials.
func DefaultVenueConfig() VenueConfig {
	return VenueConfig{Name: "paper"}
}

// AdvisorConfig selects and configures the optional LLM advisor.
type AdvisorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// DefaultAdvisorConfig defaults to disabled (the noop advisor).
func DefaultAdvisorConfig() AdvisorConfig {
	return AdvisorConfig{Enabled: false, Model: "sonar"}
}

// StoreConfig sets where closed trades are persisted.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// DefaultStoreConfig writes to a local data directory.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{DataDir: "./data"}
}

// LoggingConfig controls the zap logger's level and encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultLoggingConfig defaults to console encoding at info level.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{Level: "info", Format: "console"}
}

// WebhookConfig optionally forwards every bus event to an external HTTP
// endpoint (circuit transitions, closed trades, rejected orders).
type WebhookConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DefaultWebhookConfig defaults to disabled.
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{Enabled: false, Timeout: 5 * time.Second}
}

// ServerConfig controls the HTTP/websocket API surface.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DefaultServerConfig listens on 8080 and allows all origins by default.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{Port: 8080, AllowedOrigins: []string{"*"}}
}

// Config is the root configuration aggregating every subsystem.
type Config struct {
	DryRun bool `mapstructure:"dry_run"`

	Loop      LoopConfig         `mapstructure:"loop"`
	Venue     VenueConfig        `mapstructure:"venue"`
	Advisor   AdvisorConfig      `mapstructure:"advisor"`
	Store     StoreConfig        `mapstructure:"store"`
	Webhook   WebhookConfig      `mapstructure:"webhook"`
	Logging   LoggingConfig      `mapstructure:"logging"`
	Server    ServerConfig       `mapstructure:"server"`

	SignalV1  v1.Config          `mapstructure:"signal_v1"`
	Regime    regime.Config      `mapstructure:"regime"`
	RiskSizer risksizer.Config   `mapstructure:"risk_sizer"`
	Portfolio portfolio.Config   `mapstructure:"portfolio"`
	Exit      exit.Config        `mapstructure:"exit"`
	Breaker   breaker.Config     `mapstructure:"breaker"`
}

// defaults returns a Config with every subsystem's DefaultConfig() filled
// in, so that a YAML/env override file only needs to specify deltas.
func defaults() Config {
	return Config{
		DryRun:    true,
		Loop:      DefaultLoopConfig(),
		Venue:     DefaultVenueConfig(),
		Advisor:   DefaultAdvisorConfig(),
		Store:     DefaultStoreConfig(),
		Webhook:   DefaultWebhookConfig(),
		Logging:   DefaultLoggingConfig(),
		Server:    DefaultServerConfig(),
		SignalV1:  v1.DefaultConfig(),
		Regime:    regime.DefaultConfig(),
		RiskSizer: risksizer.DefaultConfig(),
		Portfolio: portfolio.DefaultConfig(),
		Exit:      exit.DefaultConfig(),
		Breaker:   breaker.DefaultConfig(),
	}
}

// Load reads configuration from path (a YAML file), layering it over the
// package defaults; a SCALPER_* environment variable replaces the value of
// a key only when that key appears in the file. An empty path is
// permitted; in that case the YAML read is skipped and the package
// defaults apply unchanged, with no environment variable read.
func Load(path string) (*Config, error) {
	cfg := defaults()

	v := viper.New()
	v.SetEnvPrefix("SCALPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks cross-cutting invariants that cannot be expressed as
// per-subsystem defaults.
func (c *Config) Validate() error {
	if len(c.Loop.Symbols) == 0 {
		return fmt.Errorf("loop.symbols must not be empty")
	}
	if c.Loop.CycleInterval <= 0 {
		return fmt.Errorf("loop.cycle_interval must be > 0")
	}
	if c.Loop.Leverage <= 0 {
		return fmt.Errorf("loop.leverage must be > 0")
	}
	if !c.DryRun && c.Venue.Name != "paper" && c.Venue.APIKey == "" {
		return fmt.Errorf("venue.api_key is required for live trading (set SCALPER_VENUE_API_KEY)")
	}
	if c.Advisor.Enabled && c.Advisor.APIKey == "" {
		return fmt.Errorf("advisor.api_key is required when advisor.enabled is true")
	}
	if c.Webhook.Enabled && c.Webhook.URL == "" {
		return fmt.Errorf("webhook.url is required when webhook.enabled is true")
	}
	return nil
}
