package paper

import (
	"context"
	"fmt"
	"time"

	"donchianbot/internal/execution"
)

// Broker fills every order immediately against an in-memory Account.
type Broker struct {
	account     *Account
	slippageBps float64
	recorder    FillRecorder
	now         func() time.Time
}

// Option customizes a paper Broker.
type Option func(*Broker)

// WithSlippage moves fills against the order by bps basis points of the reference price.
func WithSlippage(bps float64) Option {
	return func(b *Broker) { b.slippageBps = bps }
}

// WithRecorder forwards every fill to rec.
func WithRecorder(rec FillRecorder) Option {
	return func(b *Broker) { b.recorder = rec }
}

// WithClock overrides the fill timestamp source for orders without a time.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// NewBroker wraps account as an execution.Broker.
func NewBroker(account *Account, opts ...Option) *Broker {
	b := &Broker{account: account, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Account exposes the underlying paper account.
func (b *Broker) Account() *Account { return b.account }

// PlaceOrder fills the order at its reference price adjusted for slippage.
func (b *Broker) PlaceOrder(ctx context.Context, order execution.Order) (execution.Fill, error) {
	if err := ctx.Err(); err != nil {
		return execution.Fill{}, err
	}
	price := order.Price
	switch order.Side {
	case execution.Buy:
		price *= 1 + b.slippageBps/10_000
	case execution.Sell:
		price *= 1 - b.slippageBps/10_000
	}
	qty := order.Shares()
	if _, err := b.account.MarketFill(order.Symbol, order.Side, qty, price); err != nil {
		return execution.Fill{}, fmt.Errorf("%w: %s %s: %v", execution.ErrRejected, order.Side, order.Symbol, err)
	}
	ts := order.Time
	if ts.IsZero() {
		ts = b.now()
	}
	fill := execution.Fill{Symbol: order.Symbol, Side: order.Side, Qty: qty, Price: price, Time: ts}
	if b.recorder != nil {
		b.recorder.Record(fill)
	}
	return fill, nil
}

// Balance returns capital not committed to open positions.
func (b *Broker) Balance(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return b.account.AvailableCash(), nil
}
