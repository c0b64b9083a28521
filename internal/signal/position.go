package signal

import (
	"cmp"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// OpenPosition is an exposure currently held on one instrument.
type OpenPosition struct {
	ID            int64        `json:"id"`
	Stock         string       `json:"stock"`
	Direction     Direction    `json:"direction"`
	Date          time.Time    `json:"date"`
	EntryPrice    float64      `json:"entry_price"`
	QuantityType  QuantityType `json:"quantity_type"`
	Quantity      float64      `json:"quantity"`
	EntrySignalID int64        `json:"entry_signal_id"`
}

// SharesEquivalent converts the position quantity into instrument units.
func (p OpenPosition) SharesEquivalent() float64 {
	if p.QuantityType == Capital {
		if p.EntryPrice <= 0 {
			return 0
		}
		return p.Quantity / p.EntryPrice
	}
	return p.Quantity
}

// Notional is the entry value of the position in account currency.
func (p OpenPosition) Notional() float64 {
	if p.QuantityType == Capital {
		return p.Quantity
	}
	return p.Quantity * p.EntryPrice
}

// Unrealized marks the position at the supplied price.
func (p OpenPosition) Unrealized(mark float64) float64 {
	return (mark - p.EntryPrice) * p.SharesEquivalent() * p.Direction.Sign()
}

// Trade is a closed round trip. Build it with NewTrade so the result fields stay consistent.
type Trade struct {
	ID            int64           `json:"id"`
	Stock         string          `json:"stock"`
	Direction     Direction       `json:"direction"`
	QuantityType  QuantityType    `json:"quantity_type"`
	Quantity      float64         `json:"quantity"`
	EntryPrice    float64         `json:"entry_price"`
	ExitPrice     float64         `json:"exit_price"`
	EntryDate     time.Time       `json:"entry_date"`
	ExitDate      time.Time       `json:"exit_date"`
	GrossResult   decimal.Decimal `json:"gross_result"`
	Commission    decimal.Decimal `json:"commission"`
	NetResult     decimal.Decimal `json:"net_result"`
	EntrySignalID int64           `json:"entry_signal_id"`
	ExitSignalID  int64           `json:"exit_signal_id"`
	PositionID    int64           `json:"position_id"`
}

// NewTrade closes pos at exitPrice on behalf of the exit signal.
// Gross result is (exit - entry) * shares for longs and the negation for shorts; net is gross minus commission.
func NewTrade(id int64, pos OpenPosition, exit Signal, exitPrice float64, commission decimal.Decimal) Trade {
	shares := decimal.NewFromFloat(pos.SharesEquivalent())
	gross := decimal.NewFromFloat(exitPrice).Sub(decimal.NewFromFloat(pos.EntryPrice)).Mul(shares)
	if pos.Direction == Short {
		gross = gross.Neg()
	}
	return Trade{
		ID:            id,
		Stock:         pos.Stock,
		Direction:     pos.Direction,
		QuantityType:  pos.QuantityType,
		Quantity:      pos.Quantity,
		EntryPrice:    pos.EntryPrice,
		ExitPrice:     exitPrice,
		EntryDate:     pos.Date,
		ExitDate:      exit.Date,
		GrossResult:   gross,
		Commission:    commission,
		NetResult:     gross.Sub(commission),
		EntrySignalID: pos.EntrySignalID,
		ExitSignalID:  exit.ID,
		PositionID:    pos.ID,
	}
}

// Winner reports a strictly positive net result.
func (t Trade) Winner() bool { return t.NetResult.IsPositive() }

// SortTrades orders trades in place by exit date, then id.
func SortTrades(trades []Trade) {
	slices.SortStableFunc(trades, func(a, b Trade) int {
		if c := a.ExitDate.Compare(b.ExitDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
