// Package lifecycle turns signals into position and trade state for every instrument.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"donchianbot/internal/execution"
	"donchianbot/internal/indicator"
	"donchianbot/internal/metrics"
	"donchianbot/internal/risk"
	sig "donchianbot/internal/signal"

	"github.com/rs/zerolog"
)

// Executor submits orders and reports capital. *execution.Executor satisfies it.
type Executor interface {
	Submit(ctx context.Context, order execution.Order) (execution.Fill, error)
	Balance(ctx context.Context) (float64, error)
}

// Outcome reports the state changes a signal caused.
type Outcome struct {
	Opened *sig.OpenPosition
	Closed *sig.Trade
}

// book is the position state of one instrument. capital is only tracked under WithAllocation.
type book struct {
	mu      sync.Mutex
	open    *sig.OpenPosition
	capital float64
}

// Manager owns every open position and the append-only trade log.
type Manager struct {
	exec       Executor
	sizer      risk.Sizer
	commission CommissionModel
	store      Store
	allocation float64
	log        zerolog.Logger

	booksMu sync.RWMutex
	books   map[string]*book

	tradesMu sync.RWMutex
	trades   []sig.Trade

	lastSignal atomic.Int64
}

// Option customizes a Manager.
type Option func(*Manager)

// WithStore persists signals, positions and trades.
func WithStore(store Store) Option { return func(m *Manager) { m.store = store } }

// WithCommission sets the commission model; the default charges nothing.
func WithCommission(model CommissionModel) Option {
	return func(m *Manager) { m.commission = model }
}

// WithAllocation gives every instrument its own capital of amount, grown or shrunk only by that
// instrument's closed trades. Entries are sized from it instead of the executor balance, so no
// instrument's sizing depends on another's.
func WithAllocation(amount float64) Option {
	return func(m *Manager) { m.allocation = amount }
}

// NewManager wires a lifecycle manager around an executor and sizer.
func NewManager(exec Executor, sizer risk.Sizer, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		exec:       exec,
		sizer:      sizer,
		commission: NoCommission{},
		log:        log,
		books:      make(map[string]*book),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) book(stock string) *book {
	m.booksMu.RLock()
	b, ok := m.books[stock]
	m.booksMu.RUnlock()
	if ok {
		return b
	}
	m.booksMu.Lock()
	defer m.booksMu.Unlock()
	if b, ok = m.books[stock]; !ok {
		b = &book{capital: m.allocation}
		m.books[stock] = b
	}
	return b
}

// Apply executes s against the instrument's position state. snap supplies the volatility factor
// used for sizing entries. Signals other than NONE are persisted.
//
// A failed order leaves state untouched, except for REVERSE whose exit leg stays committed when
// the entry leg fails; the returned Outcome then carries the closed trade.
func (m *Manager) Apply(ctx context.Context, s sig.Signal, snap indicator.Snapshot) (Outcome, error) {
	bump(&m.lastSignal, s.ID)
	b := m.book(s.Stock)
	b.mu.Lock()
	defer b.mu.Unlock()

	var (
		out Outcome
		err error
	)
	switch s.Type {
	case sig.None, sig.Error:
	case sig.Entry:
		if b.open != nil {
			err = transitionErr(s, fmt.Errorf("%w: %s position already open", ErrInvalidTransition, b.open.Direction))
			break
		}
		out.Opened, err = m.open(ctx, b, s, s.Direction, snap)
	case sig.Exit:
		if b.open == nil {
			err = transitionErr(s, fmt.Errorf("%w: no open position to exit", ErrInvalidTransition))
			break
		}
		out.Closed, err = m.close(ctx, b, s)
	case sig.Reverse:
		if b.open == nil {
			err = transitionErr(s, fmt.Errorf("%w: no open position to reverse", ErrInvalidTransition))
			break
		}
		if b.open.Direction == s.Direction {
			err = transitionErr(s, fmt.Errorf("%w: reverse into existing %s", ErrInvalidTransition, s.Direction))
			break
		}
		out.Closed, err = m.close(ctx, b, s)
		if err != nil {
			break
		}
		out.Opened, err = m.open(ctx, b, s, s.Direction, snap)
	default:
		err = transitionErr(s, fmt.Errorf("%w: unknown signal type %s", ErrInvalidTransition, s.Type))
	}

	if perr := m.persist(ctx, s, out); perr != nil {
		if err == nil {
			return out, perr
		}
		err = errors.Join(err, perr)
	}
	return out, err
}

func (m *Manager) open(ctx context.Context, b *book, s sig.Signal, dir sig.Direction, snap indicator.Snapshot) (*sig.OpenPosition, error) {
	balance := b.capital
	if m.allocation <= 0 {
		var err error
		if balance, err = m.exec.Balance(ctx); err != nil {
			return nil, transitionErr(s, fmt.Errorf("%w: read balance: %w", ErrExecutionFailure, err))
		}
	}
	qty, qtyType, err := m.sizer.Size(balance, s.Price, snap.VF)
	if err != nil {
		return nil, transitionErr(s, fmt.Errorf("%w: size order: %w", ErrExecutionFailure, err))
	}
	fill, err := m.exec.Submit(ctx, execution.Order{
		Symbol:       s.Stock,
		Side:         execution.SideFor(dir, true),
		Qty:          qty,
		QuantityType: qtyType,
		Price:        s.Price,
		Time:         s.Date,
		Reason:       s.Reason,
		SignalID:     s.ID,
	})
	if err != nil {
		return nil, transitionErr(s, fmt.Errorf("%w: open %s: %w", ErrExecutionFailure, dir, err))
	}

	pos := &sig.OpenPosition{
		ID:            s.ID,
		Stock:         s.Stock,
		Direction:     dir,
		Date:          s.Date,
		EntryPrice:    fill.Price,
		QuantityType:  qtyType,
		Quantity:      fill.Qty,
		EntrySignalID: s.ID,
	}
	if qtyType == sig.Capital {
		pos.Quantity = fill.Qty * fill.Price
	}
	b.open = pos
	metrics.OpenPositions.WithLabelValues(s.Stock).Set(1)
	m.log.Info().Str("sym", s.Stock).Int64("signal_id", s.ID).Str("direction", dir.String()).
		Float64("price", pos.EntryPrice).Float64("qty", pos.Quantity).Msg("position opened")
	cp := *pos
	return &cp, nil
}

func (m *Manager) close(ctx context.Context, b *book, s sig.Signal) (*sig.Trade, error) {
	pos := *b.open
	fill, err := m.exec.Submit(ctx, execution.Order{
		Symbol:       s.Stock,
		Side:         execution.SideFor(pos.Direction, false),
		Qty:          pos.SharesEquivalent(),
		QuantityType: sig.Shares,
		Price:        s.Price,
		Time:         s.Date,
		Reason:       s.Reason,
		SignalID:     s.ID,
	})
	if err != nil {
		return nil, transitionErr(s, fmt.Errorf("%w: close %s: %w", ErrExecutionFailure, pos.Direction, err))
	}

	trade := sig.NewTrade(s.ID, pos, s, fill.Price, m.commission.Commission(pos, fill.Price))
	b.open = nil
	b.capital += trade.NetResult.InexactFloat64()
	m.tradesMu.Lock()
	m.trades = append(m.trades, trade)
	m.tradesMu.Unlock()

	metrics.OpenPositions.WithLabelValues(s.Stock).Set(0)
	metrics.TradesTotal.WithLabelValues(s.Stock, trade.Direction.String()).Inc()
	metrics.RealizedPnL.WithLabelValues(s.Stock).Add(trade.NetResult.InexactFloat64())
	m.log.Info().Str("sym", s.Stock).Int64("signal_id", s.ID).Str("direction", trade.Direction.String()).
		Float64("price", trade.ExitPrice).Str("net", trade.NetResult.StringFixed(2)).Msg("position closed")
	return &trade, nil
}

func (m *Manager) persist(ctx context.Context, s sig.Signal, out Outcome) error {
	if m.store == nil {
		return nil
	}
	var errs []error
	if s.Type != sig.None {
		if err := m.store.SaveSignal(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("save signal #%d: %w", s.ID, err))
		}
	}
	if out.Closed != nil {
		if err := m.store.SaveTrade(ctx, *out.Closed); err != nil {
			errs = append(errs, fmt.Errorf("save trade #%d: %w", out.Closed.ID, err))
		}
	}
	if out.Opened != nil {
		if err := m.store.SavePosition(ctx, *out.Opened); err != nil {
			errs = append(errs, fmt.Errorf("save position %s: %w", out.Opened.Stock, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	m.log.Error().Err(errors.Join(errs...)).Str("sym", s.Stock).Int64("signal_id", s.ID).Msg("persist lifecycle state")
	return transitionErr(s, fmt.Errorf("%w: %w", ErrPersistence, errors.Join(errs...)))
}

// OpenPosition returns a copy of the instrument's open position.
func (m *Manager) OpenPosition(stock string) (sig.OpenPosition, bool) {
	m.booksMu.RLock()
	b, ok := m.books[stock]
	m.booksMu.RUnlock()
	if !ok {
		return sig.OpenPosition{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open == nil {
		return sig.OpenPosition{}, false
	}
	return *b.open, true
}

// OpenPositions lists every open position ordered by instrument.
func (m *Manager) OpenPositions() []sig.OpenPosition {
	m.booksMu.RLock()
	stocks := make([]string, 0, len(m.books))
	for stock := range m.books {
		stocks = append(stocks, stock)
	}
	m.booksMu.RUnlock()
	slices.Sort(stocks)

	var out []sig.OpenPosition
	for _, stock := range stocks {
		if pos, ok := m.OpenPosition(stock); ok {
			out = append(out, pos)
		}
	}
	return out
}

// Trades returns a copy of the trade log ordered by exit date, then id.
func (m *Manager) Trades() []sig.Trade {
	m.tradesMu.RLock()
	out := slices.Clone(m.trades)
	m.tradesMu.RUnlock()
	sig.SortTrades(out)
	return out
}

// LastSignalID is the highest signal id seen by Apply or Restore.
func (m *Manager) LastSignalID() int64 { return m.lastSignal.Load() }

// Restore rehydrates open positions for symbols and the trade log from the store, and advances
// the signal id counter past everything restored.
func (m *Manager) Restore(ctx context.Context, symbols []string) error {
	if m.store == nil {
		return nil
	}
	trades, err := m.store.Trades(ctx)
	if err != nil {
		return fmt.Errorf("restore trades: %w", err)
	}
	m.tradesMu.Lock()
	m.trades = append(m.trades[:0], trades...)
	m.tradesMu.Unlock()
	realized := make(map[string]float64)
	for _, t := range trades {
		bump(&m.lastSignal, max(t.EntrySignalID, t.ExitSignalID))
		realized[t.Stock] += t.NetResult.InexactFloat64()
	}
	last, err := m.store.LastSignalID(ctx)
	if err != nil {
		return fmt.Errorf("restore signal id: %w", err)
	}
	bump(&m.lastSignal, last)

	for _, stock := range symbols {
		pos, ok, err := m.store.LoadOpenPosition(ctx, stock)
		if err != nil {
			return fmt.Errorf("restore position %s: %w", stock, err)
		}
		b := m.book(stock)
		b.mu.Lock()
		b.capital = m.allocation + realized[stock]
		if ok {
			b.open = &pos
			bump(&m.lastSignal, pos.EntrySignalID)
			metrics.OpenPositions.WithLabelValues(stock).Set(1)
		} else {
			b.open = nil
		}
		b.mu.Unlock()
	}
	m.log.Info().Int("trades", len(trades)).Int("symbols", len(symbols)).Msg("lifecycle state restored")
	return nil
}

func bump(counter *atomic.Int64, seen int64) {
	for {
		cur := counter.Load()
		if seen <= cur || counter.CompareAndSwap(cur, seen) {
			return
		}
	}
}
