// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"donchianbot/internal/indicator"
	"donchianbot/internal/lifecycle"
	"donchianbot/internal/marketdata"
	"donchianbot/internal/risk"
	sig "donchianbot/internal/signal"
	"donchianbot/internal/store"
	"donchianbot/internal/strategy"
)

// App captures process-wide runtime settings such as name, environment, listeners, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	APIAddr     string `yaml:"api_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Strategy specifies which generator is active along with its indicator lookbacks and thresholds.
type Strategy struct {
	Mode       string           `yaml:"mode"`
	Indicators indicator.Params `yaml:"indicators"`
	Params     strategy.Params  `yaml:"params"`
}

// Commission selects the commission model applied to closed trades.
type Commission struct {
	Model string  `yaml:"model" json:"model"` // none|flat|percent
	Value float64 `yaml:"value" json:"value"`
}

// Build returns the configured lifecycle commission model.
func (c Commission) Build() (lifecycle.CommissionModel, error) {
	return lifecycle.NewCommission(c.Model, c.Value)
}

// Paper captures paper-trading account settings such as starting cash, per-symbol caps, and recording paths.
type Paper struct {
	StartingCash         float64 `yaml:"starting_cash"`
	MaxPositionPerSymbol float64 `yaml:"max_position_per_symbol"`
	SlippageBps          float64 `yaml:"slippage_bps"`
	FillsPath            string  `yaml:"fills_path"`
	TradesPath           string  `yaml:"trades_path"`
}

// MarketData selects the historical source and the live feed.
type MarketData struct {
	Symbols    []string                    `yaml:"symbols"`
	Source     string                      `yaml:"source"` // csv|clickhouse
	CSVDir     string                      `yaml:"csv_dir"`
	ClickHouse marketdata.ClickHouseConfig `yaml:"clickhouse"`
	Feed       string                      `yaml:"feed"` // stub|alpaca
	StreamURL  string                      `yaml:"stream_url"`

	// WarmupDays of history replayed into the indicators before a live session starts.
	WarmupDays int `yaml:"warmup_days"`
}

// Store enables durable lifecycle state.
type Store struct {
	Enabled      bool `yaml:"enabled"`
	store.Config `yaml:",inline"`
}

// Backtest bounds the replay window. Dates are YYYY-MM-DD or RFC3339; empty means unbounded.
type Backtest struct {
	From    string `yaml:"from"`
	To      string `yaml:"to"`
	Workers int    `yaml:"workers"`
}

// Range parses the replay window.
func (b Backtest) Range() (from, to time.Time, err error) {
	if from, err = parseDate(b.From); err != nil {
		return from, to, fmt.Errorf("backtest.from: %w", err)
	}
	if to, err = parseDate(b.To); err != nil {
		return from, to, fmt.Errorf("backtest.to: %w", err)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return from, to, errors.New("backtest.to is before backtest.from")
	}
	return from, to, nil
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.DateOnly, raw); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, raw)
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App        App        `yaml:"app"`
	Strategy   Strategy   `yaml:"strategy"`
	Sizing     risk.Sizer `yaml:"sizing"`
	Commission Commission `yaml:"commission"`
	Paper      Paper      `yaml:"paper"`
	Broker     Broker     `yaml:"broker"`
	MarketData MarketData `yaml:"marketdata"`
	Store      Store      `yaml:"store"`
	Backtest   Backtest   `yaml:"backtest"`
}

// Default returns a configuration that runs a paper backtest over CSV files in ./data.
func Default() *Config {
	return &Config{
		App: App{Name: "donchianbot", Env: "dev", MetricsAddr: ":9102", APIAddr: ":8080", LogLevel: "info"},
		Strategy: Strategy{
			Mode:       "breakout",
			Indicators: indicator.DefaultParams(),
			Params:     strategy.Params{ADXThreshold: 25, VFMin: 0, VFMax: 2, ATRStopMultiplier: 2, AllowShort: true},
		},
		Sizing:     risk.DefaultSizer(),
		Commission: Commission{Model: "none"},
		Paper:      Paper{StartingCash: 10_000},
		Broker:     Broker{Provider: BrokerPaper},
		MarketData: MarketData{Source: "csv", CSVDir: "data", Feed: marketdata.ProviderStub, WarmupDays: 60},
		Store:      Store{Config: store.Config{Path: "var/state"}},
		Backtest:   Backtest{Workers: 4},
	}
}

// Load reads a YAML file from disk over the defaults, applies environment overrides and validates.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	config := Default()
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.ApplyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate rejects parameter combinations the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	ind := c.Strategy.Indicators
	for name, v := range map[string]int{
		"donchian_period": ind.DonchianPeriod,
		"adx_period":      ind.ADXPeriod,
		"atr_period":      ind.ATRPeriod,
		"trailing_period": ind.TrailingPeriod,
	} {
		if v < 1 {
			errs = append(errs, fmt.Errorf("strategy.indicators.%s must be >= 1, got %d", name, v))
		}
	}
	if ind.VFWindow < 2 {
		errs = append(errs, fmt.Errorf("strategy.indicators.vf_window must be >= 2, got %d", ind.VFWindow))
	}
	p := c.Strategy.Params
	if p.ADXThreshold <= 0 || p.ADXThreshold >= 100 {
		errs = append(errs, fmt.Errorf("strategy.params.adx_threshold must be in (0,100), got %v", p.ADXThreshold))
	}
	if p.VFMin < 0 || p.VFMax <= 0 || p.VFMin > p.VFMax {
		errs = append(errs, fmt.Errorf("strategy.params vf band [%v,%v] is invalid", p.VFMin, p.VFMax))
	}
	if p.ATRStopMultiplier <= 0 {
		errs = append(errs, fmt.Errorf("strategy.params.atr_stop_multiplier must be > 0"))
	}
	if f := c.Sizing.RiskFraction; f <= 0 || f > 1 {
		errs = append(errs, fmt.Errorf("sizing.risk_fraction must be in (0,1], got %v", f))
	}
	if c.Sizing.QuantityType != sig.Shares && c.Sizing.QuantityType != sig.Capital {
		errs = append(errs, fmt.Errorf("sizing.quantity_type is invalid"))
	}
	if _, err := strategy.Build(c.Strategy.Mode, c.Strategy.Params); err != nil {
		errs = append(errs, fmt.Errorf("strategy.mode: %w", err))
	}
	if _, err := c.Commission.Build(); err != nil {
		errs = append(errs, fmt.Errorf("commission: %w", err))
	}
	switch c.Broker.Provider {
	case BrokerPaper, BrokerAlpaca:
	default:
		errs = append(errs, fmt.Errorf("unknown broker.provider %q", c.Broker.Provider))
	}
	switch c.MarketData.Source {
	case "csv", "clickhouse":
	default:
		errs = append(errs, fmt.Errorf("unknown marketdata.source %q", c.MarketData.Source))
	}
	switch c.MarketData.Feed {
	case marketdata.ProviderStub, marketdata.ProviderAlpaca:
	default:
		errs = append(errs, fmt.Errorf("unknown marketdata.feed %q", c.MarketData.Feed))
	}
	if _, _, err := c.Backtest.Range(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
