// Package execution handles order lifecycle and interaction with brokers.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"donchianbot/internal/metrics"
	sig "donchianbot/internal/signal"

	"github.com/rs/zerolog"
)

// Side enumerates order directions used by the executor.
type Side string

const (
	// Buy opens a long or covers a short.
	Buy Side = "BUY"
	// Sell closes a long or opens a short.
	Sell Side = "SELL"
)

// ErrRejected is returned by brokers that refuse or fail to fill an order.
var ErrRejected = errors.New("order rejected")

// SideFor maps a position direction and whether the order opens it to a broker side.
func SideFor(dir sig.Direction, opening bool) Side {
	if (dir == sig.Long) == opening {
		return Buy
	}
	return Sell
}

// Order represents a placement request the executor can process.
type Order struct {
	Symbol       string
	Side         Side
	Qty          float64
	QuantityType sig.QuantityType
	// Price is the reference price used for paper fills and capital conversion.
	Price    float64
	Time     time.Time
	Reason   string
	SignalID int64
}

// Shares converts the order quantity to shares at the reference price.
func (o Order) Shares() float64 {
	if o.QuantityType == sig.Capital {
		if o.Price <= 0 {
			return 0
		}
		return o.Qty / o.Price
	}
	return o.Qty
}

// Fill is a broker confirmation of an executed order.
type Fill struct {
	Symbol  string    `json:"symbol"`
	Side    Side      `json:"side"`
	Qty     float64   `json:"qty"`
	Price   float64   `json:"price"`
	Time    time.Time `json:"time"`
	OrderID string    `json:"order_id,omitempty"`
}

// Broker places orders and reports available capital.
type Broker interface {
	PlaceOrder(ctx context.Context, order Order) (Fill, error)
	Balance(ctx context.Context) (float64, error)
}

// Executor wraps a Broker with logging and order metrics.
type Executor struct {
	broker Broker
	log    zerolog.Logger
}

// NewExecutor wraps broker with a zerolog logger.
func NewExecutor(broker Broker, log zerolog.Logger) *Executor {
	return &Executor{broker: broker, log: log}
}

// Submit places the order and waits for the broker's fill confirmation.
func (executor *Executor) Submit(ctx context.Context, order Order) (Fill, error) {
	if order.Qty <= 0 {
		return Fill{}, fmt.Errorf("%w: quantity must be positive", ErrRejected)
	}
	metrics.OrdersTotal.WithLabelValues(order.Symbol, string(order.Side)).Inc()
	fill, err := executor.broker.PlaceOrder(ctx, order)
	if err != nil {
		metrics.OrderFailuresTotal.WithLabelValues(order.Symbol).Inc()
		executor.log.Error().Err(err).Str("sym", order.Symbol).Str("side", string(order.Side)).
			Float64("qty", order.Qty).Int64("signal_id", order.SignalID).Msg("order failed")
		return Fill{}, err
	}
	executor.log.Info().Str("sym", fill.Symbol).Str("side", string(fill.Side)).Float64("qty", fill.Qty).
		Float64("px", fill.Price).Str("reason", order.Reason).Int64("signal_id", order.SignalID).Msg("order filled")
	return fill, nil
}

// Balance returns the broker's available capital.
func (executor *Executor) Balance(ctx context.Context) (float64, error) {
	return executor.broker.Balance(ctx)
}
