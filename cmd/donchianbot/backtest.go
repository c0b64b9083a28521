package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"donchianbot/internal/config"
	"donchianbot/internal/engine"
	"donchianbot/internal/indicator"
	"donchianbot/internal/risk"
	"donchianbot/internal/strategy"
)

var (
	btSymbols []string
	btFrom    string
	btTo      string
	btReport  string
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay historical bars and print the performance summary",
	RunE:  runBacktest,
}

func init() {
	backtestCmd.Flags().StringSliceVar(&btSymbols, "symbols", nil, "symbols to replay (default marketdata.symbols)")
	backtestCmd.Flags().StringVar(&btFrom, "from", "", "first bar date, YYYY-MM-DD")
	backtestCmd.Flags().StringVar(&btTo, "to", "", "last bar date, YYYY-MM-DD")
	backtestCmd.Flags().StringVar(&btReport, "report", "", "write the full JSON report to this path")
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("from") {
		cfg.Backtest.From = btFrom
	}
	if cmd.Flags().Changed("to") {
		cfg.Backtest.To = btTo
	}
	from, to, err := cfg.Backtest.Range()
	if err != nil {
		return err
	}
	symbols := cfg.MarketData.Symbols
	if len(btSymbols) > 0 {
		symbols = btSymbols
	}
	seen := make(map[string]bool, len(symbols))
	var unique []string
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" && !seen[s] {
			seen[s] = true
			unique = append(unique, s)
		}
	}
	symbols = unique
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols: set marketdata.symbols or --symbols")
	}

	log := newLogger(cfg)
	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runID := uuid.NewString()
	st, err := buildStack(cfg, log, runID, false, len(symbols))
	if err != nil {
		return err
	}
	defer st.Close()

	src, closeSrc, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSrc()

	btOpts := []engine.BacktestOption{
		engine.WithWorkers(cfg.Backtest.Workers),
		engine.WithRunID(runID),
		engine.WithRunParams(runParams{
			Mode:       cfg.Strategy.Mode,
			Indicators: cfg.Strategy.Indicators,
			Strategy:   cfg.Strategy.Params,
			Sizing:     cfg.Sizing,
			Commission: cfg.Commission,
			Cash:       cfg.Paper.StartingCash,
			Slippage:   cfg.Paper.SlippageBps,
		}),
	}
	if st.store != nil {
		btOpts = append(btOpts, engine.WithRunStore(st.store))
	}
	bt := engine.NewBacktester(src, st.eng, log, btOpts...)
	report, runErr := bt.Run(ctx, symbols, from, to)

	if btReport != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		if err := os.WriteFile(btReport, data, 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	printSummary(cmd, report, len(st.ledger.Snapshot()))
	return runErr
}

// runParams is what a backtest run records about its configuration.
type runParams struct {
	Mode       string            `json:"mode"`
	Indicators indicator.Params  `json:"indicators"`
	Strategy   strategy.Params   `json:"strategy"`
	Sizing     risk.Sizer        `json:"sizing"`
	Commission config.Commission `json:"commission"`
	Cash       float64           `json:"starting_cash"`
	Slippage   float64           `json:"slippage_bps"`
}

func printSummary(cmd *cobra.Command, r engine.Report, fills int) {
	s := r.Summary
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s  %s  %s\n", r.RunID, r.Status, strings.Join(r.Symbols, ","))
	fmt.Fprintf(out, "bars %d  rejected %d  fills %d  signals %v\n", r.Bars, r.Rejected, fills, r.Signals)
	fmt.Fprintf(out, "trades %d  wins %d  losses %d  win rate %.1f%%\n", s.Trades, s.Wins, s.Losses, s.WinRate*100)
	fmt.Fprintf(out, "net %s  gross %s  commission %s\n", s.NetPnL.StringFixed(2), s.GrossPnL.StringFixed(2), s.Commission.StringFixed(2))
	fmt.Fprintf(out, "avg win %s  avg loss %s  profit factor %.2f  max drawdown %s\n",
		s.AvgWin.StringFixed(2), s.AvgLoss.StringFixed(2), s.ProfitFactor, s.MaxDrawdown.StringFixed(2))
	for _, p := range r.Open {
		fmt.Fprintf(out, "open %s %s since %s @ %.2f\n", p.Stock, p.Direction, p.Date.Format("2006-01-02"), p.EntryPrice)
	}
}
