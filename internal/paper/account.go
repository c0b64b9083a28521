// Package paper simulates a broker in memory for backtests and dry runs.
package paper

import (
	"errors"
	"math"
	"sync"

	"donchianbot/internal/execution"
)

// FillRecorder captures paper fills for later inspection.
type FillRecorder interface {
	Record(execution.Fill)
}

const epsilon = 1e-9

var (
	errInsufficientCash = errors.New("insufficient cash")
	errPositionLimit    = errors.New("position limit exceeded")
)

// positionState holds a signed share count; negative quantities are shorts.
type positionState struct {
	Qty     float64
	AvgCost float64
}

// Account tracks virtual capital, realized PnL, and per-symbol signed positions.
type Account struct {
	mu                   sync.Mutex
	startingCash         float64
	realizedPnL          float64
	maxPositionPerSymbol float64
	positions            map[string]positionState
	// budget > 0 splits capital into fixed per-symbol pools funded by realizedBy.
	budget     float64
	realizedBy map[string]float64
}

// PositionSnapshot exposes a read-only view of a single symbol position.
type PositionSnapshot struct {
	Qty         float64
	AvgCost     float64
	MarketValue float64
	Unrealized  float64
}

// Snapshot represents a thread-safe view of the account state, optionally marked to market using provided prices.
type Snapshot struct {
	Cash        float64
	RealizedPnL float64
	Equity      float64
	Positions   map[string]PositionSnapshot
}

// NewAccount constructs an account populated with starting cash and optional per-symbol share cap.
func NewAccount(startingCash, maxPositionPerSymbol float64) *Account {
	return &Account{
		startingCash:         startingCash,
		maxPositionPerSymbol: maxPositionPerSymbol,
		positions:            make(map[string]positionState),
		realizedBy:           make(map[string]float64),
	}
}

// Allocate splits the starting cash evenly into symbols independent pools and returns the size
// of each. Afterwards a fill only competes for its own symbol's pool plus that symbol's realized PnL.
func (a *Account) Allocate(symbols int) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if symbols <= 0 {
		a.budget = 0
		return a.startingCash
	}
	a.budget = a.startingCash / float64(symbols)
	return a.budget
}

// MarketFill executes qty shares at price. Buys cover shorts before adding longs; sells close longs
// before opening shorts. Returns the realized PnL of any closed portion.
func (a *Account) MarketFill(symbol string, side execution.Side, qty, price float64) (float64, error) {
	if qty <= 0 {
		return 0, errors.New("quantity must be positive")
	}
	if price <= 0 {
		return 0, errors.New("price must be positive")
	}
	var signed float64
	switch side {
	case execution.Buy:
		signed = qty
	case execution.Sell:
		signed = -qty
	default:
		return 0, errors.New("unknown order side")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.positions[symbol]
	realized := 0.0
	opening := signed
	if state.Qty != 0 && math.Signbit(state.Qty) != math.Signbit(signed) {
		closed := math.Min(math.Abs(signed), math.Abs(state.Qty))
		direction := 1.0
		if state.Qty < 0 {
			direction = -1
		}
		realized = (price - state.AvgCost) * closed * direction
		state.Qty -= closed * direction
		opening = signed + closed*direction
		if math.Abs(state.Qty) <= epsilon {
			state = positionState{}
		}
	}

	if math.Abs(opening) > epsilon {
		free := a.startingCash + a.realizedPnL + realized - a.committedLocked(symbol) - math.Abs(state.Qty)*state.AvgCost
		if a.budget > 0 {
			free = a.budget + a.realizedBy[symbol] + realized - math.Abs(state.Qty)*state.AvgCost
		}
		if math.Abs(opening)*price > free+epsilon {
			return 0, errInsufficientCash
		}
		newQty := state.Qty + opening
		if a.maxPositionPerSymbol > 0 && math.Abs(newQty) > a.maxPositionPerSymbol+epsilon {
			return 0, errPositionLimit
		}
		state.AvgCost = ((state.AvgCost * math.Abs(state.Qty)) + math.Abs(opening)*price) / math.Abs(newQty)
		state.Qty = newQty
	}

	a.realizedPnL += realized
	a.realizedBy[symbol] += realized
	if math.Abs(state.Qty) <= epsilon {
		delete(a.positions, symbol)
	} else {
		a.positions[symbol] = state
	}
	return realized, nil
}

func (a *Account) availableLocked() float64 {
	return a.startingCash + a.realizedPnL - a.committedLocked("")
}

// committedLocked sums capital held at cost by open positions, skipping one symbol.
func (a *Account) committedLocked(skip string) float64 {
	committed := 0.0
	for sym, pos := range a.positions {
		if sym == skip {
			continue
		}
		committed += math.Abs(pos.Qty) * pos.AvgCost
	}
	return committed
}

// Snapshot returns a copy of balances, optionally marked using the supplied prices map.
func (a *Account) Snapshot(prices map[string]float64) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	cash := a.availableLocked()
	positions := make(map[string]PositionSnapshot, len(a.positions))
	equity := cash
	for sym, pos := range a.positions {
		mark := prices[sym]
		if mark == 0 {
			mark = pos.AvgCost
		}
		unrealized := (mark - pos.AvgCost) * pos.Qty
		positions[sym] = PositionSnapshot{
			Qty:         pos.Qty,
			AvgCost:     pos.AvgCost,
			MarketValue: pos.Qty * mark,
			Unrealized:  unrealized,
		}
		equity += math.Abs(pos.Qty)*pos.AvgCost + unrealized
	}

	return Snapshot{
		Cash:        cash,
		RealizedPnL: a.realizedPnL,
		Equity:      equity,
		Positions:   positions,
	}
}

// AvailableCash reports capital not committed to open positions.
func (a *Account) AvailableCash() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.availableLocked()
}

// Position returns the signed position size for the supplied symbol.
func (a *Account) Position(symbol string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positions[symbol].Qty
}

// RealizedPnL returns total closed-trade profit and loss.
func (a *Account) RealizedPnL() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.realizedPnL
}
