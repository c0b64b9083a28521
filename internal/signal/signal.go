// Package signal standardizes the records shared between market data, the signal generator and the
// position lifecycle: bars in, signals out, positions and trades as the resulting state.
package signal

import (
	"fmt"
	"time"
)

// Bar models one OHLCV observation for a single instrument.
type Bar struct {
	Symbol string    `json:"symbol"`
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Signal is the decision taken for one instrument on one bar. It is never mutated once emitted.
type Signal struct {
	ID         int64      `json:"id"`
	Stock      string     `json:"stock"`
	Type       SignalType `json:"signal"`
	Direction  Direction  `json:"direction"` // entry side for Entry/Reverse, closing order side for Exit
	Date       time.Time  `json:"date"`
	Price      float64    `json:"price"`
	Confidence float64    `json:"confidence"`
	Reason     string     `json:"reason"`
}

func (s Signal) String() string {
	if s.Type == Entry || s.Type == Reverse {
		return fmt.Sprintf("#%d %s %s/%s @ %.4f (%s)", s.ID, s.Stock, s.Type, s.Direction, s.Price, s.Reason)
	}
	return fmt.Sprintf("#%d %s %s @ %.4f (%s)", s.ID, s.Stock, s.Type, s.Price, s.Reason)
}
