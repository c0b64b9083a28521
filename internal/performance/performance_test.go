package performance

import (
	"testing"
	"time"

	sig "donchianbot/internal/signal"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func trade(id int64, day int, net float64) sig.Trade {
	n := decimal.NewFromFloat(net)
	fee := decimal.NewFromInt(1)
	return sig.Trade{
		ID:          id,
		Stock:       "AAPL",
		ExitDate:    time.Date(2024, 1, day, 21, 0, 0, 0, time.UTC),
		GrossResult: n.Add(fee),
		Commission:  fee,
		NetResult:   n,
	}
}

func TestComputeEmpty(t *testing.T) {
	s := Compute(nil)
	require.Zero(t, s.Trades)
	require.Zero(t, s.WinRate)
	require.True(t, s.NetPnL.IsZero())
	require.True(t, s.MaxDrawdown.IsZero())
	require.Empty(t, s.Equity)
}

func TestComputeSummary(t *testing.T) {
	trades := []sig.Trade{
		trade(3, 4, -30),
		trade(1, 2, 100),
		trade(2, 3, -50),
		trade(4, 5, 40),
	}
	s := Compute(trades)

	require.Equal(t, 4, s.Trades)
	require.Equal(t, 2, s.Wins)
	require.Equal(t, 2, s.Losses)
	require.InDelta(t, 0.5, s.WinRate, 1e-12)
	require.True(t, s.NetPnL.Equal(decimal.NewFromInt(60)), s.NetPnL.String())
	require.True(t, s.GrossPnL.Equal(decimal.NewFromInt(64)), s.GrossPnL.String())
	require.True(t, s.Commission.Equal(decimal.NewFromInt(4)))
	require.True(t, s.AvgWin.Equal(decimal.NewFromInt(70)), s.AvgWin.String())
	require.True(t, s.AvgLoss.Equal(decimal.NewFromInt(-40)), s.AvgLoss.String())
	require.InDelta(t, 140.0/80.0, s.ProfitFactor, 1e-9)

	// curve: 100, 50, 20, 60 -> peak 100, trough 20
	require.True(t, s.MaxDrawdown.Equal(decimal.NewFromInt(80)), s.MaxDrawdown.String())
	require.Len(t, s.Equity, 4)
	require.True(t, s.Equity[0].Equity.Equal(decimal.NewFromInt(100)))
	require.True(t, s.Equity[3].Equity.Equal(decimal.NewFromInt(60)))
}

func TestComputeDoesNotMutateInputAndIsIdempotent(t *testing.T) {
	trades := []sig.Trade{trade(2, 3, -5), trade(1, 2, 10)}
	first := Compute(trades)
	second := Compute(trades)
	require.Equal(t, int64(2), trades[0].ID)
	require.Equal(t, first, second)
}

func TestDrawdownFromZeroWhenFirstTradeLoses(t *testing.T) {
	s := Compute([]sig.Trade{trade(1, 2, -25), trade(2, 3, 10)})
	require.True(t, s.MaxDrawdown.Equal(decimal.NewFromInt(25)), s.MaxDrawdown.String())
	require.InDelta(t, 0.4, s.ProfitFactor, 1e-12)
}
