// Package indicator computes the rolling Donchian channel, ADX, ATR and volatility factor for one
// instrument's bar stream.
package indicator

import (
	"errors"
	"fmt"
	"math"
	"time"

	"donchianbot/internal/signal"
)

var (
	// ErrMalformedBar marks bars rejected before they could touch indicator state.
	ErrMalformedBar = errors.New("malformed bar")
	// ErrInsufficientHistory marks snapshots taken before the warm-up window is complete.
	ErrInsufficientHistory = errors.New("insufficient history")
)

const dxEpsilon = 1e-10

// MalformedBarError describes why a bar was rejected.
type MalformedBarError struct {
	Symbol string
	Time   time.Time
	Reason string
}

func (e *MalformedBarError) Error() string {
	return fmt.Sprintf("malformed bar %s at %s: %s", e.Symbol, e.Time.Format(time.RFC3339), e.Reason)
}

func (e *MalformedBarError) Unwrap() error { return ErrMalformedBar }

// Params are the lookback lengths of every indicator.
type Params struct {
	DonchianPeriod int `yaml:"donchian_period" json:"donchian_period"`
	ADXPeriod      int `yaml:"adx_period" json:"adx_period"`
	ATRPeriod      int `yaml:"atr_period" json:"atr_period"`
	VFWindow       int `yaml:"vf_window" json:"vf_window"`
	TrailingPeriod int `yaml:"trailing_period" json:"trailing_period"`
}

// DefaultParams mirrors the classic breakout setup: 20-bar channel, 14-bar ADX/ATR.
func DefaultParams() Params {
	return Params{DonchianPeriod: 20, ADXPeriod: 14, ATRPeriod: 14, VFWindow: 10, TrailingPeriod: 10}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.DonchianPeriod <= 0 {
		p.DonchianPeriod = d.DonchianPeriod
	}
	if p.ADXPeriod <= 0 {
		p.ADXPeriod = d.ADXPeriod
	}
	if p.ATRPeriod <= 0 {
		p.ATRPeriod = d.ATRPeriod
	}
	if p.VFWindow <= 1 {
		p.VFWindow = d.VFWindow
	}
	if p.TrailingPeriod <= 0 {
		p.TrailingPeriod = d.TrailingPeriod
	}
	return p
}

// Warmup is the number of bars that must precede a bar before its snapshot is usable.
func (p Params) Warmup() int {
	p = p.withDefaults()
	return max(p.DonchianPeriod, p.ADXPeriod, p.ATRPeriod, p.VFWindow+1, p.TrailingPeriod)
}

// Snapshot holds the indicator values observed at the close of one bar.
// When Ready is false every float field is NaN.
type Snapshot struct {
	Time      time.Time
	Close     float64
	Upper     float64
	Lower     float64
	Mid       float64
	ADX       float64
	PlusDI    float64
	MinusDI   float64
	ATR       float64
	VF        float64
	TrailHigh float64
	TrailLow  float64
	Bars      int
	Ready     bool
}

// Undefined returns a not-ready snapshot for the given bar.
func Undefined(bar signal.Bar, bars int) Snapshot {
	nan := math.NaN()
	return Snapshot{
		Time: bar.Time, Close: bar.Close, Bars: bars,
		Upper: nan, Lower: nan, Mid: nan, ADX: nan, PlusDI: nan, MinusDI: nan,
		ATR: nan, VF: nan, TrailHigh: nan, TrailLow: nan,
	}
}

// Series is the stateful indicator engine for a single instrument. It is not safe for concurrent use;
// callers serialize access per instrument.
type Series struct {
	params Params
	warmup int

	count int
	prev  signal.Bar

	highs      *ring
	lows       *ring
	trailHighs *ring
	trailLows  *ring
	returns    *ring

	atr     wilder
	trS     wilder
	plusDM  wilder
	minusDM wilder
	adx     wilder
}

// NewSeries builds an empty engine; zero params take their defaults.
func NewSeries(params Params) *Series {
	params = params.withDefaults()
	return &Series{
		params:     params,
		warmup:     params.Warmup(),
		highs:      newRing(params.DonchianPeriod),
		lows:       newRing(params.DonchianPeriod),
		trailHighs: newRing(params.TrailingPeriod),
		trailLows:  newRing(params.TrailingPeriod),
		returns:    newRing(params.VFWindow),
		atr:        newWilder(params.ATRPeriod),
		trS:        newWilder(params.ADXPeriod),
		plusDM:     newWilder(params.ADXPeriod),
		minusDM:    newWilder(params.ADXPeriod),
		adx:        newWilder(params.ADXPeriod),
	}
}

// Params returns the effective lookbacks.
func (s *Series) Params() Params { return s.params }

// Warmup returns the number of bars needed before the first ready snapshot.
func (s *Series) Warmup() int { return s.warmup }

// Last returns the most recently accepted bar.
func (s *Series) Last() (signal.Bar, bool) { return s.prev, s.count > 0 }

// Len returns how many bars have been accepted.
func (s *Series) Len() int { return s.count }

// Update folds bar into the rolling state and returns the snapshot at its close.
// A malformed bar returns a *MalformedBarError and leaves the state untouched.
func (s *Series) Update(bar signal.Bar) (Snapshot, error) {
	if err := s.validate(bar); err != nil {
		return Undefined(bar, s.count), err
	}

	// Channel bounds come from the bars before this one.
	upper, lower := s.highs.max(), s.lows.min()
	trailHigh, trailLow := s.trailHighs.max(), s.trailLows.min()
	ready := s.count >= s.warmup

	tr := bar.High - bar.Low
	var plusDM, minusDM float64
	if s.count > 0 {
		tr = math.Max(tr, math.Max(math.Abs(bar.High-s.prev.Close), math.Abs(bar.Low-s.prev.Close)))
		up := bar.High - s.prev.High
		down := s.prev.Low - bar.Low
		if up > down && up > 0 {
			plusDM = up
		}
		if down > up && down > 0 {
			minusDM = down
		}
		s.returns.push(bar.Close/s.prev.Close - 1)
	}

	atr := s.atr.add(tr)
	trSmooth := s.trS.add(tr)
	plusDI := 100 * s.plusDM.add(plusDM) / (trSmooth + dxEpsilon)
	minusDI := 100 * s.minusDM.add(minusDM) / (trSmooth + dxEpsilon)
	dx := 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI + dxEpsilon)
	adx := clamp(s.adx.add(dx), 0, 100)

	s.highs.push(bar.High)
	s.lows.push(bar.Low)
	s.trailHighs.push(bar.High)
	s.trailLows.push(bar.Low)
	s.prev = bar
	s.count++

	if !ready {
		return Undefined(bar, s.count), nil
	}

	vf := 0.0
	if atr > 0 {
		vf = s.returns.stdev() / (atr / bar.Close)
	}
	return Snapshot{
		Time:      bar.Time,
		Close:     bar.Close,
		Upper:     upper,
		Lower:     lower,
		Mid:       (upper + lower) / 2,
		ADX:       adx,
		PlusDI:    plusDI,
		MinusDI:   minusDI,
		ATR:       atr,
		VF:        vf,
		TrailHigh: trailHigh,
		TrailLow:  trailLow,
		Bars:      s.count,
		Ready:     true,
	}, nil
}

func (s *Series) validate(bar signal.Bar) error {
	reject := func(reason string) error {
		return &MalformedBarError{Symbol: bar.Symbol, Time: bar.Time, Reason: reason}
	}
	for _, v := range []float64{bar.Open, bar.High, bar.Low, bar.Close, bar.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return reject("non-finite price or volume")
		}
	}
	switch {
	case bar.Open <= 0 || bar.High <= 0 || bar.Low <= 0 || bar.Close <= 0:
		return reject("non-positive price")
	case bar.Volume < 0:
		return reject("negative volume")
	case bar.High < bar.Low:
		return reject("high below low")
	case bar.Time.IsZero():
		return reject("missing timestamp")
	case s.count > 0 && !bar.Time.After(s.prev.Time):
		return reject(fmt.Sprintf("timestamp not after %s", s.prev.Time.Format(time.RFC3339)))
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
