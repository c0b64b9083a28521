package strategy

import (
	"fmt"
	"strings"

	"donchianbot/internal/indicator"
	sig "donchianbot/internal/signal"
)

// Generator turns one bar plus its indicator snapshot into exactly one signal.
// Implementations hold no per-instrument state.
type Generator interface {
	Evaluate(bar sig.Bar, snap indicator.Snapshot, pos *sig.OpenPosition) sig.Signal
	Reject(bar sig.Bar, err error) sig.Signal
	Name() string
	Version() string
	// Params returns the effective knobs after defaults were applied.
	Params() Params
}

// Params expresses tunable knobs required by generator constructors.
type Params struct {
	ADXThreshold      float64 `yaml:"adx_threshold" json:"adx_threshold"`
	VFMin             float64 `yaml:"vf_min" json:"vf_min"`
	VFMax             float64 `yaml:"vf_max" json:"vf_max"`
	ATRStopMultiplier float64 `yaml:"atr_stop_multiplier" json:"atr_stop_multiplier"`
	AllowShort        bool    `yaml:"allow_short" json:"allow_short"`
}

// Build returns a generator matching the configured mode. An empty mode selects the breakout generator.
func Build(mode string, params Params) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "breakout", "donchian", "volatility_breakout":
		return NewBreakout(params), nil
	default:
		return nil, fmt.Errorf("unknown strategy mode %q", mode)
	}
}
