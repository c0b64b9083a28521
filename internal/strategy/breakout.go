// Package strategy contains the breakout signal generator fed by indicator snapshots.
package strategy

import (
	"math"
	"strings"

	"donchianbot/internal/indicator"
	sig "donchianbot/internal/signal"
)

// Breakout trades closes beyond the Donchian channel when ADX confirms a trend and the volatility
// factor says the move is not a noise spike. Exits on a midpoint cross, fading ADX or an ATR
// trailing stop.
type Breakout struct {
	threshold  float64
	vfMin      float64
	vfMax      float64
	stopMult   float64
	allowShort bool
}

// NewBreakout builds a Breakout generator; non-positive knobs take their defaults.
func NewBreakout(p Params) *Breakout {
	if p.ADXThreshold <= 0 {
		p.ADXThreshold = 25
	}
	if p.VFMax <= 0 {
		p.VFMax = 2
	}
	if p.VFMin < 0 || p.VFMin > p.VFMax {
		p.VFMin = 0
	}
	if p.ATRStopMultiplier <= 0 {
		p.ATRStopMultiplier = 2
	}
	return &Breakout{
		threshold:  p.ADXThreshold,
		vfMin:      p.VFMin,
		vfMax:      p.VFMax,
		stopMult:   p.ATRStopMultiplier,
		allowShort: p.AllowShort,
	}
}

// Name returns the identifier for logging.
func (b *Breakout) Name() string { return "DonchianADXBreakout" }

// Version identifies the rule set recorded with backtest runs.
func (b *Breakout) Version() string { return "1.0.0" }

// Params returns the knobs in effect.
func (b *Breakout) Params() Params {
	return Params{
		ADXThreshold:      b.threshold,
		VFMin:             b.vfMin,
		VFMax:             b.vfMax,
		ATRStopMultiplier: b.stopMult,
		AllowShort:        b.allowShort,
	}
}

// Evaluate decides on the bar. pos is the instrument's open position or nil when flat.
func (b *Breakout) Evaluate(bar sig.Bar, snap indicator.Snapshot, pos *sig.OpenPosition) sig.Signal {
	out := sig.Signal{Stock: bar.Symbol, Type: sig.None, Date: bar.Time, Price: bar.Close}
	if !snap.Ready || !defined(snap) {
		out.Reason = indicator.ErrInsufficientHistory.Error()
		return out
	}

	longEntry := b.longEntry(bar, snap)
	shortEntry := b.shortEntry(bar, snap)

	if pos == nil {
		switch {
		case longEntry:
			out.Type, out.Direction = sig.Entry, sig.Long
			out.Reason = "close above donchian upper"
			out.Confidence = b.entryConfidence(snap)
		case shortEntry:
			out.Type, out.Direction = sig.Entry, sig.Short
			out.Reason = "close below donchian lower"
			out.Confidence = b.entryConfidence(snap)
		default:
			out.Reason = "no breakout"
		}
		return out
	}

	reasons, confidence := b.exitReasons(pos.Direction, bar, snap)
	opposite := shortEntry
	if pos.Direction == sig.Short {
		opposite = longEntry
	}
	switch {
	case len(reasons) > 0 && opposite:
		out.Type, out.Direction = sig.Reverse, pos.Direction.Opposite()
		out.Reason = "reverse: " + strings.Join(reasons, "; ")
		out.Confidence = b.entryConfidence(snap)
	case len(reasons) > 0:
		// A same-direction breakout on an exit bar still flattens.
		out.Type, out.Direction = sig.Exit, pos.Direction.Opposite()
		out.Reason = strings.Join(reasons, "; ")
		out.Confidence = confidence
	default:
		out.Reason = "holding " + pos.Direction.String()
	}
	return out
}

// Reject builds the ERROR signal for a bar the indicator engine refused.
func (b *Breakout) Reject(bar sig.Bar, err error) sig.Signal {
	price := bar.Close
	if math.IsNaN(price) || math.IsInf(price, 0) {
		price = 0
	}
	reason := "malformed bar"
	if err != nil {
		reason = err.Error()
	}
	return sig.Signal{Stock: bar.Symbol, Type: sig.Error, Date: bar.Time, Price: price, Reason: reason}
}

func (b *Breakout) vfConfirmed(snap indicator.Snapshot) bool {
	return snap.VF >= b.vfMin && snap.VF <= b.vfMax
}

func (b *Breakout) longEntry(bar sig.Bar, snap indicator.Snapshot) bool {
	return bar.Close > snap.Upper && snap.ADX > b.threshold && b.vfConfirmed(snap)
}

func (b *Breakout) shortEntry(bar sig.Bar, snap indicator.Snapshot) bool {
	return b.allowShort && bar.Close < snap.Lower && snap.ADX > b.threshold && b.vfConfirmed(snap)
}

func (b *Breakout) exitReasons(dir sig.Direction, bar sig.Bar, snap indicator.Snapshot) ([]string, float64) {
	var reasons []string
	confidence := 0.0
	hard := false
	if dir == sig.Long {
		if bar.Close < snap.Mid {
			reasons = append(reasons, "close below channel midpoint")
			hard = true
		}
		if stop := snap.TrailHigh - b.stopMult*snap.ATR; bar.Close < stop {
			reasons = append(reasons, "trailing stop breached")
			hard = true
		}
	} else {
		if bar.Close > snap.Mid {
			reasons = append(reasons, "close above channel midpoint")
			hard = true
		}
		if stop := snap.TrailLow + b.stopMult*snap.ATR; bar.Close > stop {
			reasons = append(reasons, "trailing stop breached")
			hard = true
		}
	}
	if snap.ADX < b.threshold {
		reasons = append(reasons, "adx below threshold")
		confidence = 0.5 + 0.5*clamp((b.threshold-snap.ADX)/b.threshold, 0, 1)
	}
	if hard {
		confidence = 1
	}
	return reasons, confidence
}

// entryConfidence blends ADX strength above the threshold with how calm VF is relative to its ceiling.
func (b *Breakout) entryConfidence(snap indicator.Snapshot) float64 {
	adxScore := clamp((snap.ADX-b.threshold)/(100-b.threshold), 0, 1)
	vfScore := clamp(1-snap.VF/b.vfMax, 0, 1)
	return clamp(0.5*adxScore+0.5*vfScore, 0, 1)
}

func defined(s indicator.Snapshot) bool {
	for _, v := range []float64{s.Upper, s.Lower, s.Mid, s.ADX, s.ATR, s.VF, s.TrailHigh, s.TrailLow} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
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
