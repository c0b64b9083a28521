package integration

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"donchianbot/internal/config"
	"donchianbot/internal/engine"
	"donchianbot/internal/execution"
	"donchianbot/internal/lifecycle"
	"donchianbot/internal/marketdata"
	"donchianbot/internal/paper"
	sig "donchianbot/internal/signal"
	"donchianbot/internal/store"
	"donchianbot/internal/strategy"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// writeCSV writes a daily bar file where each open is the previous close and the range
// extends half a point beyond open and close.
func writeCSV(t *testing.T, dir, symbol string, closes []float64) {
	t.Helper()
	var b strings.Builder
	b.WriteString("timestamp,open,high,low,close,volume\n")
	prev := closes[0]
	for i, c := range closes {
		fmt.Fprintf(&b, "%s,%g,%g,%g,%g,1000\n", start.AddDate(0, 0, i).Format(time.DateOnly),
			prev, math.Max(prev, c)+0.5, math.Min(prev, c)-0.5, c)
		prev = c
	}
	if err := os.WriteFile(filepath.Join(dir, symbol+".csv"), []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write %s: %v", symbol, err)
	}
}

// rally is flat at 100 for 30 bars, climbs 2 per bar for 10, then drops 3 per bar for 5.
func rally() []float64 {
	var closes []float64
	for range 30 {
		closes = append(closes, 100)
	}
	for i := 1; i <= 10; i++ {
		closes = append(closes, 100+2*float64(i))
	}
	for i := 1; i <= 5; i++ {
		closes = append(closes, 120-3*float64(i))
	}
	return closes
}

// lifted is rally moved up by level.
func lifted(level float64) []float64 {
	closes := rally()
	for i := range closes {
		closes[i] += level
	}
	return closes
}

func flat(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100
	}
	return closes
}

type run struct {
	report  engine.Report
	account *paper.Account
	db      *store.BadgerStore
}

func backtest(t *testing.T, dir, tradesPath string, symbols ...string) run {
	t.Helper()
	cfg := config.Default()
	cfg.Strategy.Params = strategy.Params{ADXThreshold: 25, VFMax: 2, ATRStopMultiplier: 2, AllowShort: true}

	runID := fmt.Sprintf("run-%d", time.Now().UnixNano())
	db, err := store.Open(store.Config{InMemory: true, Namespace: runID}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	rec, err := paper.NewJSONLRecorder(tradesPath)
	if err != nil {
		t.Fatalf("open recorder: %v", err)
	}
	t.Cleanup(func() { _ = rec.Close() })

	account := paper.NewAccount(cfg.Paper.StartingCash, 0)
	alloc := account.Allocate(len(symbols))
	broker := paper.NewBroker(account, paper.WithRecorder(rec))
	commission, err := cfg.Commission.Build()
	if err != nil {
		t.Fatalf("commission: %v", err)
	}
	gen, err := strategy.Build(cfg.Strategy.Mode, cfg.Strategy.Params)
	if err != nil {
		t.Fatalf("strategy: %v", err)
	}
	mgr := lifecycle.NewManager(execution.NewExecutor(broker, zerolog.Nop()), cfg.Sizing, zerolog.Nop(),
		lifecycle.WithStore(db), lifecycle.WithCommission(commission), lifecycle.WithAllocation(alloc))
	eng := engine.New(cfg.Strategy.Indicators, gen, mgr, zerolog.Nop(),
		engine.WithTradeHook(func(tr sig.Trade) {
			if err := rec.RecordTrade(tr); err != nil {
				t.Errorf("record trade: %v", err)
			}
		}))

	bt := engine.NewBacktester(marketdata.NewCSVSource(dir), eng, zerolog.Nop(),
		engine.WithWorkers(len(symbols)), engine.WithRunID(runID), engine.WithRunStore(db))
	report, err := bt.Run(context.Background(), symbols, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("backtest: %v", err)
	}
	return run{report: report, account: account, db: db}
}

func TestBacktestFlowFromCSV(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "AAPL", rally())
	writeCSV(t, dir, "MSFT", flat(45))
	tradesPath := filepath.Join(t.TempDir(), "trades.jsonl")

	r := backtest(t, dir, tradesPath, "AAPL", "MSFT")
	report := r.report

	if report.Bars != 90 || report.Rejected != 0 {
		t.Fatalf("expected 90 clean bars, got bars=%d rejected=%d", report.Bars, report.Rejected)
	}
	if report.Signals["entry"] != 1 || report.Signals["exit"] != 1 || report.Signals["reverse"] != 0 {
		t.Fatalf("unexpected signal counts %v", report.Signals)
	}
	if len(report.Trades) != 1 || len(report.Open) != 0 {
		t.Fatalf("expected one closed trade and nothing open, got %d trades %d open", len(report.Trades), len(report.Open))
	}

	tr := report.Trades[0]
	if tr.Stock != "AAPL" || tr.Direction != sig.Long {
		t.Fatalf("unexpected trade %+v", tr)
	}
	if tr.EntryPrice != 108 || !tr.EntryDate.Equal(start.AddDate(0, 0, 33)) {
		t.Fatalf("expected entry at 108 on day 33, got %v on %s", tr.EntryPrice, tr.EntryDate)
	}
	if tr.ExitPrice != 114 || !tr.ExitDate.Equal(start.AddDate(0, 0, 41)) {
		t.Fatalf("expected trailing-stop exit at 114 on day 41, got %v on %s", tr.ExitPrice, tr.ExitDate)
	}
	if tr.EntrySignalID >= tr.ExitSignalID {
		t.Fatalf("entry signal %d should precede exit signal %d", tr.EntrySignalID, tr.ExitSignalID)
	}
	want := 6 * tr.Quantity
	if got := tr.GrossResult.InexactFloat64(); math.Abs(got-want) > 1e-6 {
		t.Fatalf("gross %v, want %v", got, want)
	}
	if !tr.NetResult.Equal(tr.GrossResult) {
		t.Fatalf("no commission configured, net %s gross %s", tr.NetResult, tr.GrossResult)
	}
	if net := report.Summary.NetPnL.InexactFloat64(); math.Abs(net-want) > 1e-6 || report.Summary.Wins != 1 {
		t.Fatalf("unexpected summary %+v", report.Summary)
	}

	// the paper account saw the same round trip
	if pos := r.account.Position("AAPL"); pos != 0 {
		t.Fatalf("expected flat account, got %v", pos)
	}
	if pnl := r.account.RealizedPnL(); math.Abs(pnl-want) > 1e-6 {
		t.Fatalf("account realized %v, want %v", pnl, want)
	}

	// and the store agrees with the in-memory log
	ctx := context.Background()
	stored, err := r.db.Trades(ctx)
	if err != nil || len(stored) != 1 || stored[0].ID != tr.ID || stored[0].ExitPrice != tr.ExitPrice {
		t.Fatalf("stored trades %+v (%v)", stored, err)
	}
	open, err := r.db.OpenPositions(ctx)
	if err != nil || len(open) != 0 {
		t.Fatalf("expected no stored open positions, got %+v (%v)", open, err)
	}
	signals, err := r.db.Signals(ctx)
	if err != nil || len(signals) != 2 {
		t.Fatalf("expected entry and exit signals stored, got %d (%v)", len(signals), err)
	}

	// the run itself was recorded outside the run's namespace
	recorded, ok, err := r.db.LoadRun(ctx, report.RunID)
	if err != nil || !ok {
		t.Fatalf("run %s not recorded (%v)", report.RunID, err)
	}
	if recorded.Status != sig.RunCompleted || recorded.Trades != 1 || recorded.Bars != 90 || !recorded.NetPnL.Equal(report.Summary.NetPnL) {
		t.Fatalf("unexpected run record %+v", recorded)
	}
	if !strings.Contains(string(recorded.Parameters), `"adx_threshold":25`) {
		t.Fatalf("run parameters missing strategy knobs: %s", recorded.Parameters)
	}

	// two fills and one trade were recorded as JSON lines
	lines := countLines(t, tradesPath)
	if lines != 3 {
		t.Fatalf("expected 3 recorded lines, got %d", lines)
	}
}

func TestBacktestIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "AAPL", rally())
	writeCSV(t, dir, "NVDA", lifted(50))
	writeCSV(t, dir, "MSFT", flat(45))
	symbols := []string{"AAPL", "NVDA", "MSFT"}

	first := backtest(t, dir, filepath.Join(t.TempDir(), "first.jsonl"), symbols...).report
	if len(first.Trades) != 2 || first.Trades[0].Stock == first.Trades[1].Stock {
		t.Fatalf("expected AAPL and NVDA to trade once each, got %+v", first.Trades)
	}
	for n := range 5 {
		again := backtest(t, dir, filepath.Join(t.TempDir(), fmt.Sprintf("run%d.jsonl", n)), symbols...).report
		if len(first.Trades) != len(again.Trades) {
			t.Fatalf("trade counts differ: %d vs %d", len(first.Trades), len(again.Trades))
		}
		for i := range first.Trades {
			a, b := first.Trades[i], again.Trades[i]
			if a.ID != b.ID || a.PositionID != b.PositionID || a.EntrySignalID != b.EntrySignalID ||
				a.Stock != b.Stock || a.Quantity != b.Quantity || a.EntryPrice != b.EntryPrice ||
				a.ExitPrice != b.ExitPrice || !a.EntryDate.Equal(b.EntryDate) || !a.NetResult.Equal(b.NetResult) {
				t.Fatalf("trade %d differs:\n%+v\n%+v", i, a, b)
			}
		}
		if !first.Summary.NetPnL.Equal(again.Summary.NetPnL) {
			t.Fatalf("net pnl differs: %s vs %s", first.Summary.NetPnL, again.Summary.NetPnL)
		}
	}
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n
}
