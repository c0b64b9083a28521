package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	sig "donchianbot/internal/signal"
)

func openTestStore(t *testing.T, ns string) *BadgerStore {
	t.Helper()
	s, err := Open(Config{InMemory: true, Namespace: ns}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var day = time.Date(2024, 6, 3, 20, 0, 0, 0, time.UTC)

func TestPositionRoundTripAndTradeClears(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "run-1")

	_, ok, err := s.LoadOpenPosition(ctx, "AAPL")
	require.NoError(t, err)
	require.False(t, ok)

	pos := sig.OpenPosition{ID: 1, Stock: "AAPL", Direction: sig.Short, Date: day, EntryPrice: 190.5, QuantityType: sig.Capital, Quantity: 1000, EntrySignalID: 4}
	require.NoError(t, s.SavePosition(ctx, pos))

	got, ok, err := s.LoadOpenPosition(ctx, "AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, pos, got)

	exit := sig.Signal{ID: 9, Stock: "AAPL", Type: sig.Exit, Date: day.AddDate(0, 0, 3), Price: 180}
	trade := sig.NewTrade(1, pos, exit, 180, decimal.NewFromInt(2))
	require.NoError(t, s.SaveTrade(ctx, trade))

	_, ok, err = s.LoadOpenPosition(ctx, "AAPL")
	require.NoError(t, err)
	require.False(t, ok, "SaveTrade must clear the open position")

	trades, err := s.Trades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.True(t, trades[0].NetResult.Equal(trade.NetResult))
	require.Equal(t, sig.Short, trades[0].Direction)
}

func TestSignalsListedInIDOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "run-2")
	for _, id := range []int64{10, 2, 33} {
		require.NoError(t, s.SaveSignal(ctx, sig.Signal{ID: id, Stock: "MSFT", Type: sig.Entry, Date: day}))
	}
	signals, err := s.Signals(ctx)
	require.NoError(t, err)
	require.Len(t, signals, 3)
	require.Equal(t, []int64{2, 10, 33}, []int64{signals[0].ID, signals[1].ID, signals[2].ID})
	require.Equal(t, sig.Entry, signals[0].Type)
}

func TestNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	a := openTestStore(t, "a")
	b := a.WithNamespace("b")
	require.NoError(t, a.SavePosition(ctx, sig.OpenPosition{ID: 1, Stock: "TSLA"}))

	_, ok, err := b.LoadOpenPosition(ctx, "TSLA")
	require.NoError(t, err)
	require.False(t, ok)

	positions, err := a.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.Equal(t, "b", b.Namespace())
}

func TestCancelledContextRejectsWrites(t *testing.T) {
	s := openTestStore(t, "run-3")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.SaveSignal(ctx, sig.Signal{ID: 1}), context.Canceled)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{}, zerolog.Nop())
	require.Error(t, err)
}

func TestLastSignalID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "live")
	other := s.WithNamespace("live-2")

	last, err := s.LastSignalID(ctx)
	require.NoError(t, err)
	require.Zero(t, last)

	for _, id := range []int64{7, 50, 9} {
		require.NoError(t, s.SaveSignal(ctx, sig.Signal{ID: id, Stock: "AAPL", Type: sig.Error, Date: day}))
	}
	require.NoError(t, other.SaveSignal(ctx, sig.Signal{ID: 900, Stock: "AAPL", Type: sig.Entry, Date: day}))

	last, err = s.LastSignalID(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 50, last)
}

func TestRunRecords(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "r1")

	first := sig.Run{ID: "r1", Strategy: "DonchianADXBreakout", Version: "1.0.0", Parameters: []byte(`{"adx_threshold":25}`),
		Symbols: []string{"AAPL"}, Started: day, Status: sig.RunRunning}
	require.NoError(t, s.SaveRun(ctx, first))
	second := sig.Run{ID: "r0", Strategy: "DonchianADXBreakout", Started: day.Add(-time.Hour), Status: sig.RunCompleted}
	require.NoError(t, s.WithNamespace("r0").SaveRun(ctx, second))

	first.Status = sig.RunCompleted
	first.Finished = day.Add(time.Minute)
	first.Trades = 2
	first.NetPnL = decimal.NewFromInt(42)
	require.NoError(t, s.SaveRun(ctx, first))

	got, ok, err := s.LoadRun(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sig.RunCompleted, got.Status)
	require.True(t, got.NetPnL.Equal(decimal.NewFromInt(42)))
	require.JSONEq(t, `{"adx_threshold":25}`, string(got.Parameters))

	_, ok, err = s.LoadRun(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "r0", runs[0].ID, "runs are ordered by start time")
}
