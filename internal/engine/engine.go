// Package engine runs bars through the indicator, signal and lifecycle stages and orchestrates
// backtest replays and live streams on top of that.
package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"donchianbot/internal/indicator"
	"donchianbot/internal/lifecycle"
	"donchianbot/internal/metrics"
	sig "donchianbot/internal/signal"
	"donchianbot/internal/strategy"
)

// instrument is the per-symbol indicator state. Its mutex serializes bar processing for the symbol.
type instrument struct {
	mu     sync.Mutex
	series *indicator.Series
}

// Engine is the core facade: one bar in, one signal out, with position state updated in between.
// Different instruments may be processed concurrently; bars of one instrument are serialized.
type Engine struct {
	params  indicator.Params
	gen     strategy.Generator
	mgr     *lifecycle.Manager
	log     zerolog.Logger
	onTrade func(sig.Trade)

	mu          sync.Mutex
	instruments map[string]*instrument
	nextID      atomic.Int64
}

// Option customizes an Engine.
type Option func(*Engine)

// WithTradeHook calls fn for every closed trade, while the instrument is still locked.
func WithTradeHook(fn func(sig.Trade)) Option {
	return func(e *Engine) { e.onTrade = fn }
}

// New builds an engine around a generator and lifecycle manager.
func New(params indicator.Params, gen strategy.Generator, mgr *lifecycle.Manager, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		params:      params,
		gen:         gen,
		mgr:         mgr,
		log:         log,
		instruments: make(map[string]*instrument),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) instrument(stock string) *instrument {
	e.mu.Lock()
	defer e.mu.Unlock()
	in, ok := e.instruments[stock]
	if !ok {
		in = &instrument{series: indicator.NewSeries(e.params)}
		e.instruments[stock] = in
	}
	return in
}

// ProcessBar updates the instrument's indicators, generates the bar's signal and applies it.
// The returned signal is always populated. A malformed bar yields an ERROR signal and an error
// wrapping lifecycle.ErrMalformedBar; lifecycle failures are returned as *lifecycle.TransitionError.
//
// Processing a bar is atomic: cancellation of ctx is not observed once the bar has been accepted.
func (e *Engine) ProcessBar(ctx context.Context, stock string, bar sig.Bar) (sig.Signal, error) {
	return e.process(ctx, stock, bar, e.nextID.Add(1))
}

// reserveIDs claims n consecutive signal ids and returns the first.
func (e *Engine) reserveIDs(n int) int64 {
	return e.nextID.Add(int64(n)) - int64(n) + 1
}

func (e *Engine) process(ctx context.Context, stock string, bar sig.Bar, id int64) (sig.Signal, error) {
	bar.Symbol = stock
	in := e.instrument(stock)
	in.mu.Lock()
	defer in.mu.Unlock()

	metrics.BarsTotal.WithLabelValues(stock).Inc()
	ctx = context.WithoutCancel(ctx)

	snap, barErr := in.series.Update(bar)
	var s sig.Signal
	if barErr != nil {
		s = e.gen.Reject(bar, barErr)
	} else {
		var pos *sig.OpenPosition
		if open, ok := e.mgr.OpenPosition(stock); ok {
			pos = &open
		}
		s = e.gen.Evaluate(bar, snap, pos)
	}
	s.ID = id
	metrics.SignalsTotal.WithLabelValues(stock, s.Type.String()).Inc()

	out, err := e.mgr.Apply(ctx, s, snap)
	if out.Closed != nil && e.onTrade != nil {
		e.onTrade(*out.Closed)
	}

	switch {
	case barErr != nil:
		e.log.Warn().Err(barErr).Str("sym", stock).Int64("signal_id", s.ID).Msg("malformed bar rejected")
		return s, &lifecycle.TransitionError{Stock: stock, Date: bar.Time, SignalID: s.ID, Signal: s.Type, Err: barErr}
	case s.Type != sig.None:
		e.log.Info().Str("sym", stock).Int64("signal_id", s.ID).Str("signal", s.Type.String()).
			Str("direction", s.Direction.String()).Float64("price", s.Price).
			Float64("confidence", s.Confidence).Str("reason", s.Reason).Msg("signal")
	}
	return s, err
}

// Warm feeds bars into the instrument's indicators without generating signals, so a live
// session can start with a full lookback window. Returns the number of bars accepted.
func (e *Engine) Warm(stock string, bars []sig.Bar) int {
	in := e.instrument(stock)
	in.mu.Lock()
	defer in.mu.Unlock()
	accepted := 0
	for _, bar := range bars {
		bar.Symbol = stock
		if _, err := in.series.Update(bar); err != nil {
			e.log.Warn().Err(err).Str("sym", stock).Msg("skipping malformed warm-up bar")
			continue
		}
		accepted++
	}
	return accepted
}

// Mark returns the close of the instrument's last accepted bar.
func (e *Engine) Mark(stock string) (float64, bool) {
	e.mu.Lock()
	in, ok := e.instruments[stock]
	e.mu.Unlock()
	if !ok {
		return 0, false
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	last, ok := in.series.Last()
	return last.Close, ok
}

// OpenPosition returns the instrument's open position, if any.
func (e *Engine) OpenPosition(stock string) (sig.OpenPosition, bool) {
	return e.mgr.OpenPosition(stock)
}

// OpenPositions lists all open positions ordered by instrument.
func (e *Engine) OpenPositions() []sig.OpenPosition { return e.mgr.OpenPositions() }

// TradeLog returns closed trades ordered by exit date, then id.
func (e *Engine) TradeLog() []sig.Trade { return e.mgr.Trades() }

// Restore rehydrates lifecycle state and continues signal ids after the restored ones.
func (e *Engine) Restore(ctx context.Context, symbols []string) error {
	if err := e.mgr.Restore(ctx, symbols); err != nil {
		return err
	}
	last := e.mgr.LastSignalID()
	for {
		cur := e.nextID.Load()
		if last <= cur || e.nextID.CompareAndSwap(cur, last) {
			return nil
		}
	}
}
