package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"donchianbot/internal/indicator"
	"donchianbot/internal/lifecycle"
	"donchianbot/internal/marketdata"
	"donchianbot/internal/performance"
	sig "donchianbot/internal/signal"
	"donchianbot/internal/strategy"
)

// Report is the outcome of one backtest run.
type Report struct {
	RunID    string              `json:"run_id"`
	Status   sig.RunStatus       `json:"status"`
	Symbols  []string            `json:"symbols"`
	From     time.Time           `json:"from"`
	To       time.Time           `json:"to"`
	Started  time.Time           `json:"started"`
	Finished time.Time           `json:"finished"`
	Bars     int                 `json:"bars"`
	Signals  map[string]int      `json:"signals"`
	Rejected int                 `json:"rejected"`
	Trades   []sig.Trade         `json:"trades"`
	Open     []sig.OpenPosition  `json:"open_positions"`
	Summary  performance.Summary `json:"summary"`
}

// RunStore records backtest runs. *store.BadgerStore satisfies it.
type RunStore interface {
	SaveRun(ctx context.Context, run sig.Run) error
}

// Backtester replays historical bars from a Source through an Engine.
type Backtester struct {
	src     marketdata.Source
	eng     *Engine
	log     zerolog.Logger
	workers int
	runID   string
	runs    RunStore
	params  any
}

// BacktestOption customizes a Backtester.
type BacktestOption func(*Backtester)

// WithWorkers bounds how many instruments sharing a timestamp are processed concurrently.
func WithWorkers(n int) BacktestOption {
	return func(b *Backtester) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithRunID fixes the run id, e.g. when the store was namespaced with it beforehand.
func WithRunID(id string) BacktestOption {
	return func(b *Backtester) { b.runID = id }
}

// WithRunStore records the run when it starts and again when it ends.
func WithRunStore(runs RunStore) BacktestOption {
	return func(b *Backtester) { b.runs = runs }
}

// WithRunParams replaces the parameters recorded with the run. The default records the
// indicator lookbacks and the generator's effective knobs.
func WithRunParams(v any) BacktestOption {
	return func(b *Backtester) { b.params = v }
}

// NewBacktester wires a replay of src into eng.
func NewBacktester(src marketdata.Source, eng *Engine, log zerolog.Logger, opts ...BacktestOption) *Backtester {
	b := &Backtester{src: src, eng: eng, log: log, workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(b)
	}
	if b.runID == "" {
		b.runID = uuid.NewString()
	}
	if b.params == nil {
		b.params = struct {
			Indicators indicator.Params `json:"indicators"`
			Strategy   strategy.Params  `json:"strategy"`
		}{eng.params, eng.gen.Params()}
	}
	return b
}

// RunID identifies this backtest.
func (b *Backtester) RunID() string { return b.runID }

// Run replays every symbol to the end of its data. Bars of all symbols are merged by timestamp;
// bars sharing a timestamp get signal ids in symbol order and are then processed concurrently,
// so ids and results do not depend on scheduling. Malformed bars, invalid transitions and
// rejected orders are logged and counted; source errors and persistence failures stop the run.
// Positions still open at the end are reported, not closed.
func (b *Backtester) Run(ctx context.Context, symbols []string, from, to time.Time) (Report, error) {
	symbols = dedupe(symbols)
	report := Report{
		RunID:   b.runID,
		Status:  sig.RunRunning,
		Symbols: symbols,
		From:    from,
		To:      to,
		Started: time.Now().UTC(),
		Signals: make(map[string]int),
	}
	log := b.log.With().Str("run_id", b.runID).Logger()
	log.Info().Strs("symbols", symbols).Int("workers", b.workers).Msg("backtest started")

	if err := b.record(ctx, report, ""); err != nil {
		return report, err
	}

	err := b.replay(ctx, symbols, from, to, &report, log)

	report.Trades = b.eng.TradeLog()
	report.Open = b.eng.OpenPositions()
	report.Summary = performance.Compute(report.Trades)
	report.Finished = time.Now().UTC()
	switch {
	case err == nil:
		report.Status = sig.RunCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		report.Status = sig.RunCanceled
	default:
		report.Status = sig.RunFailed
	}
	var msg string
	if err != nil {
		msg = err.Error()
	}
	if rerr := b.record(context.WithoutCancel(ctx), report, msg); rerr != nil {
		err = errors.Join(err, rerr)
	}
	log.Info().Int("bars", report.Bars).Int("trades", report.Summary.Trades).Str("status", string(report.Status)).
		Str("net", report.Summary.NetPnL.StringFixed(2)).Msg("backtest finished")
	return report, err
}

func (b *Backtester) record(ctx context.Context, r Report, failure string) error {
	if b.runs == nil {
		return nil
	}
	params, err := json.Marshal(b.params)
	if err != nil {
		return fmt.Errorf("encode run parameters: %w", err)
	}
	run := sig.Run{
		ID:         r.RunID,
		Strategy:   b.eng.gen.Name(),
		Version:    b.eng.gen.Version(),
		Parameters: params,
		Symbols:    r.Symbols,
		From:       r.From,
		To:         r.To,
		Started:    r.Started,
		Finished:   r.Finished,
		Status:     r.Status,
		Bars:       r.Bars,
		Trades:     r.Summary.Trades,
		NetPnL:     r.Summary.NetPnL,
		Error:      failure,
	}
	if err := b.runs.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("%w: record run %s: %w", lifecycle.ErrPersistence, r.RunID, err)
	}
	return nil
}

// cursor is the read position in one symbol's bar stream.
type cursor struct {
	symbol string
	ch     <-chan barOrErr
	head   sig.Bar
	done   bool
}

type barOrErr struct {
	bar sig.Bar
	err error
}

func (c *cursor) advance() error {
	next, ok := <-c.ch
	if !ok {
		c.done = true
		return nil
	}
	if next.err != nil {
		c.done = true
		return fmt.Errorf("replay %s: %w", c.symbol, next.err)
	}
	c.head = next.bar
	return nil
}

func (b *Backtester) replay(ctx context.Context, symbols []string, from, to time.Time, report *Report, log zerolog.Logger) error {
	readCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	cursors := make([]*cursor, len(symbols))
	for i, symbol := range symbols {
		ch := make(chan barOrErr, 64)
		cursors[i] = &cursor{symbol: symbol, ch: ch}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(ch)
			for bar, err := range b.src.Bars(readCtx, symbol, from, to) {
				select {
				case ch <- barOrErr{bar: bar, err: err}:
				case <-readCtx.Done():
					return
				}
				if err != nil {
					return
				}
			}
		}()
	}
	for _, c := range cursors {
		if err := c.advance(); err != nil {
			return err
		}
	}

	group := make([]*cursor, 0, len(cursors))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		group = group[:0]
		var at time.Time
		for _, c := range cursors {
			switch {
			case c.done:
			case len(group) == 0 || c.head.Time.Before(at):
				at = c.head.Time
				group = append(group[:0], c)
			case c.head.Time.Equal(at):
				group = append(group, c)
			}
		}
		if len(group) == 0 {
			return nil
		}
		if err := b.step(ctx, group, report, log); err != nil {
			return err
		}
		for _, c := range group {
			if err := c.advance(); err != nil {
				return err
			}
		}
	}
}

// step processes the head bar of every cursor in group. Ids are reserved up front in group order.
func (b *Backtester) step(ctx context.Context, group []*cursor, report *Report, log zerolog.Logger) error {
	type result struct {
		s   sig.Signal
		err error
	}
	results := make([]result, len(group))
	base := b.eng.reserveIDs(len(group))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, c := range group {
		g.Go(func() error {
			s, err := b.eng.process(gctx, c.symbol, c.head, base+int64(i))
			results[i] = result{s: s, err: err}
			if errors.Is(err, lifecycle.ErrPersistence) {
				return err
			}
			return nil
		})
	}
	err := g.Wait()

	for i, r := range results {
		report.Bars++
		report.Signals[r.s.Type.String()]++
		if r.err != nil && !errors.Is(r.err, lifecycle.ErrPersistence) {
			report.Rejected++
			log.Warn().Err(r.err).Str("sym", group[i].symbol).Int64("signal_id", r.s.ID).Msg("bar not applied")
		}
	}
	return err
}

func dedupe(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
