// Package performance folds a trade log into summary statistics.
package performance

import (
	"slices"
	"time"

	sig "donchianbot/internal/signal"

	"github.com/shopspring/decimal"
)

// Point is one step of the cumulative net equity curve.
type Point struct {
	Time   time.Time       `json:"time"`
	Equity decimal.Decimal `json:"equity"`
}

// Summary aggregates closed trades. Money fields are in account currency.
type Summary struct {
	Trades       int             `json:"trades"`
	Wins         int             `json:"wins"`
	Losses       int             `json:"losses"`
	WinRate      float64         `json:"win_rate"`
	NetPnL       decimal.Decimal `json:"net_pnl"`
	GrossPnL     decimal.Decimal `json:"gross_pnl"`
	Commission   decimal.Decimal `json:"commission"`
	AvgWin       decimal.Decimal `json:"avg_win"`
	AvgLoss      decimal.Decimal `json:"avg_loss"`
	ProfitFactor float64         `json:"profit_factor"`
	// MaxDrawdown is the largest peak-to-trough fall of the equity curve, as a positive amount.
	MaxDrawdown decimal.Decimal `json:"max_drawdown"`
	Equity      []Point         `json:"equity"`
}

// Compute folds trades without mutating them. Trades are ordered by exit date, then id, before
// the equity curve is built; the curve starts from zero.
func Compute(trades []sig.Trade) Summary {
	ordered := slices.Clone(trades)
	sig.SortTrades(ordered)

	var (
		s                      Summary
		grossWin, grossLoss    decimal.Decimal
		equity, peak, drawdown decimal.Decimal
	)
	s.Trades = len(ordered)
	s.Equity = make([]Point, 0, len(ordered))
	for _, t := range ordered {
		s.NetPnL = s.NetPnL.Add(t.NetResult)
		s.GrossPnL = s.GrossPnL.Add(t.GrossResult)
		s.Commission = s.Commission.Add(t.Commission)
		switch {
		case t.Winner():
			s.Wins++
			grossWin = grossWin.Add(t.NetResult)
		case t.NetResult.IsNegative():
			s.Losses++
			grossLoss = grossLoss.Add(t.NetResult.Neg())
		}

		equity = equity.Add(t.NetResult)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if dd := peak.Sub(equity); dd.GreaterThan(drawdown) {
			drawdown = dd
		}
		s.Equity = append(s.Equity, Point{Time: t.ExitDate, Equity: equity})
	}

	s.MaxDrawdown = drawdown
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
	}
	if s.Wins > 0 {
		s.AvgWin = grossWin.Div(decimal.NewFromInt(int64(s.Wins)))
	}
	if s.Losses > 0 {
		s.AvgLoss = grossLoss.Neg().Div(decimal.NewFromInt(int64(s.Losses)))
	}
	if grossLoss.IsPositive() {
		s.ProfitFactor = grossWin.Div(grossLoss).InexactFloat64()
	}
	return s
}
