package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"donchianbot/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded backtest runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.Store.Enabled {
			return errors.New("runs are only recorded with store.enabled")
		}
		db, err := store.Open(cfg.Store.Config, newLogger(cfg))
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.Runs(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, r := range runs {
			fmt.Fprintf(out, "%s  %-9s  %s %s  %s  bars %d  trades %d  net %s\n",
				r.ID, r.Status, r.Strategy, r.Version, r.Started.Format("2006-01-02 15:04:05"),
				r.Bars, r.Trades, r.NetPnL.StringFixed(2))
			if r.Error != "" {
				fmt.Fprintf(out, "  error: %s\n", r.Error)
			}
		}
		return nil
	},
}
