// Package config loads the kestrel YAML configuration and applies
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"kestrel/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the kestrel engine.
type Config struct {
	Storage Storage      `yaml:"storage"`
	Server  Server       `yaml:"server"`
	Alpaca  Alpaca       `yaml:"alpaca"`
	Logging Logging      `yaml:"logging"`
	Engine  EngineConfig `yaml:"engine"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds the status/control HTTP listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the host:port listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"` // "iex" or "sip"
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// FillPolicy selects the simulated fill price for backtests.
type FillPolicy string

const (
	// FillAtClose fills at the close of the candle that produced the signal.
	FillAtClose FillPolicy = "close"
	// FillAtNextOpen fills at the open of the following candle.
	FillAtNextOpen FillPolicy = "next_open"
)

// EngineConfig defines the trading engine's behaviour across all modes.
type EngineConfig struct {
	Mode         string           `yaml:"mode"` // "live", "paper", "backtest"
	Symbols      []string         `yaml:"symbols"`
	Interval     domain.Interval  `yaml:"interval"`
	HistorySize  int              `yaml:"history_size"`
	QueuePending bool             `yaml:"queue_pending"`
	FillPolicy   FillPolicy       `yaml:"fill_policy"`
	FeeBps       float64          `yaml:"fee_bps"`
	InitialCash  float64          `yaml:"initial_cash"`
	PositionPct  float64          `yaml:"position_pct"`     // fraction of equity per new position
	MaxNotional  float64          `yaml:"max_notional"`     // 0 = unlimited
	SnapshotSec  int              `yaml:"snapshot_seconds"` // portfolio snapshot cadence
	Strategies   []StrategyConfig `yaml:"strategies"`
}

// StrategyConfig binds one strategy instance to a set of symbols.
type StrategyConfig struct {
	Name    string             `yaml:"name"`
	Symbols []string           `yaml:"symbols"` // empty = all engine symbols
	Params  map[string]float64 `yaml:"params"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks config values that have no sensible default.
func (c *Config) Validate() error {
	switch c.Engine.Mode {
	case "live", "paper", "backtest":
	default:
		return fmt.Errorf("engine.mode must be live, paper, or backtest, got %q", c.Engine.Mode)
	}
	switch c.Engine.FillPolicy {
	case FillAtClose, FillAtNextOpen:
	default:
		return fmt.Errorf("engine.fill_policy must be %q or %q, got %q", FillAtClose, FillAtNextOpen, c.Engine.FillPolicy)
	}
	if len(c.Engine.Symbols) == 0 {
		return fmt.Errorf("engine.symbols must not be empty")
	}
	if c.Engine.Mode == "live" && (c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "") {
		return fmt.Errorf("alpaca credentials required in live mode")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Engine.Mode == "" {
		cfg.Engine.Mode = "paper"
	}
	if cfg.Engine.Interval == "" {
		cfg.Engine.Interval = "1m"
	}
	if cfg.Engine.HistorySize <= 0 {
		cfg.Engine.HistorySize = 200
	}
	if cfg.Engine.FillPolicy == "" {
		cfg.Engine.FillPolicy = FillAtClose
	}
	if cfg.Engine.InitialCash <= 0 {
		cfg.Engine.InitialCash = 100_000
	}
	if cfg.Engine.PositionPct <= 0 {
		cfg.Engine.PositionPct = 0.10
	}
	if cfg.Engine.SnapshotSec <= 0 {
		cfg.Engine.SnapshotSec = 60
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "iex"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8480
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "kestrel.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KESTREL_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_MODE"); v != "" {
		cfg.Engine.Mode = v
	}
	if v := os.Getenv("KESTREL_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
