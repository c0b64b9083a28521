// Package marketdata supplies bars to the engine: historical sources for replay and live feeds.
package marketdata

import (
	"context"
	"errors"
	"iter"
	"time"

	sig "donchianbot/internal/signal"
)

// ErrUnknownSymbol is returned when a source holds no data for the requested symbol.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Source yields one instrument's bars in timestamp order. Each call starts a fresh sequence.
// A zero from or to leaves that side of the range open.
type Source interface {
	Bars(ctx context.Context, symbol string, from, to time.Time) iter.Seq2[sig.Bar, error]
}

func inRange(ts, from, to time.Time) bool {
	if !from.IsZero() && ts.Before(from) {
		return false
	}
	if !to.IsZero() && ts.After(to) {
		return false
	}
	return true
}

// Collect drains a sequence into a slice, stopping at the first error.
func Collect(seq iter.Seq2[sig.Bar, error]) ([]sig.Bar, error) {
	var out []sig.Bar
	for bar, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, bar)
	}
	return out, nil
}
