package lifecycle

import (
	"fmt"
	"strings"

	sig "donchianbot/internal/signal"

	"github.com/shopspring/decimal"
)

// CommissionModel prices the round trip that closes pos at exitPrice.
type CommissionModel interface {
	Commission(pos sig.OpenPosition, exitPrice float64) decimal.Decimal
}

// NoCommission charges nothing.
type NoCommission struct{}

func (NoCommission) Commission(sig.OpenPosition, float64) decimal.Decimal { return decimal.Zero }

// FlatCommission charges a fixed amount per order; a trade is two orders.
type FlatCommission struct {
	PerOrder decimal.Decimal
}

func (f FlatCommission) Commission(sig.OpenPosition, float64) decimal.Decimal {
	return f.PerOrder.Mul(decimal.NewFromInt(2))
}

// PercentCommission charges Rate on the entry notional plus the exit notional.
type PercentCommission struct {
	Rate decimal.Decimal
}

func (p PercentCommission) Commission(pos sig.OpenPosition, exitPrice float64) decimal.Decimal {
	shares := decimal.NewFromFloat(pos.SharesEquivalent())
	entry := shares.Mul(decimal.NewFromFloat(pos.EntryPrice))
	exit := shares.Mul(decimal.NewFromFloat(exitPrice))
	return entry.Add(exit).Mul(p.Rate)
}

// NewCommission builds a model from its config name: "none", "flat" (value per order) or
// "percent" (value as a fraction, 0.001 = 10 bps).
func NewCommission(kind string, value float64) (CommissionModel, error) {
	if value < 0 {
		return nil, fmt.Errorf("commission value must be non-negative, got %v", value)
	}
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "none":
		return NoCommission{}, nil
	case "flat":
		return FlatCommission{PerOrder: decimal.NewFromFloat(value)}, nil
	case "percent", "pct":
		return PercentCommission{Rate: decimal.NewFromFloat(value)}, nil
	default:
		return nil, fmt.Errorf("unknown commission model %q", kind)
	}
}
