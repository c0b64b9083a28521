// Package risk sizes new positions and enforces per-trade notional caps.
package risk

import (
	"errors"
	"math"

	sig "donchianbot/internal/signal"
)

// ErrNoCapital is returned when sizing would produce a zero or negative order.
var ErrNoCapital = errors.New("no capital available for sizing")

// Limits caps the notional committed to any one trade. Zero disables the cap.
type Limits struct {
	MaxNotionalPerTrade float64 `yaml:"max_notional_per_trade" json:"max_notional_per_trade"`
}

// Allow reports whether notional fits under the per-trade cap.
func (l Limits) Allow(notional float64) bool {
	if l.MaxNotionalPerTrade <= 0 {
		return true
	}
	return notional <= l.MaxNotionalPerTrade
}

// Sizer turns account balance and the volatility factor into an order quantity.
type Sizer struct {
	RiskFraction float64          `yaml:"risk_fraction" json:"risk_fraction"`
	VFTarget     float64          `yaml:"vf_target" json:"vf_target"`
	QuantityType sig.QuantityType `yaml:"quantity_type" json:"quantity_type"`
	Limits       Limits           `yaml:"limits" json:"limits"`
}

// DefaultSizer commits a tenth of the balance, scaled down when VF runs above 1.
func DefaultSizer() Sizer {
	return Sizer{RiskFraction: 0.1, VFTarget: 1, QuantityType: sig.Shares}
}

// Notional returns the capital to commit given balance and the current VF.
func (s Sizer) Notional(balance, vf float64) float64 {
	fraction := s.RiskFraction
	if fraction <= 0 || fraction > 1 {
		fraction = DefaultSizer().RiskFraction
	}
	notional := balance * fraction
	if s.VFTarget > 0 && vf > 0 && !math.IsNaN(vf) {
		notional *= math.Min(1, s.VFTarget/vf)
	}
	if !s.Limits.Allow(notional) {
		notional = s.Limits.MaxNotionalPerTrade
	}
	return notional
}

// Size returns the order quantity for an entry at price, expressed in the configured quantity type.
func (s Sizer) Size(balance, price, vf float64) (float64, sig.QuantityType, error) {
	if price <= 0 || math.IsNaN(price) {
		return 0, s.QuantityType, errors.New("price must be positive")
	}
	notional := s.Notional(balance, vf)
	if notional <= 0 {
		return 0, s.QuantityType, ErrNoCapital
	}
	if s.QuantityType == sig.Capital {
		return notional, sig.Capital, nil
	}
	return notional / price, sig.Shares, nil
}
