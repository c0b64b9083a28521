package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"donchianbot/internal/api"
	"donchianbot/internal/config"
	"donchianbot/internal/engine"
	"donchianbot/internal/marketdata"
	"donchianbot/internal/metrics"
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Stream bars, trade through the configured broker and serve the status API",
	RunE:  runLive,
}

func runLive(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	symbols := make([]string, 0, len(cfg.MarketData.Symbols))
	for _, s := range cfg.MarketData.Symbols {
		symbols = append(symbols, strings.ToUpper(s))
	}
	if len(symbols) == 0 {
		return errors.New("no symbols: set marketdata.symbols")
	}

	log := newLogger(cfg)
	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ns := cfg.Store.Namespace
	if ns == "" {
		ns = "live"
	}
	st, err := buildStack(cfg, log, ns, true, 0)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.eng.Restore(ctx, symbols); err != nil {
		return err
	}
	if err := warm(ctx, cfg, st, symbols); err != nil {
		log.Warn().Err(err).Msg("warm-up incomplete")
	}

	metricsSrv := metrics.Serve(cfg.App.MetricsAddr)
	defer metricsSrv.Close()
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	if cfg.App.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	status := api.NewServer(st.eng, log)

	feedOpts := []marketdata.Option{}
	if cfg.MarketData.Feed == marketdata.ProviderAlpaca {
		feedOpts = append(feedOpts, marketdata.WithAlpaca(cfg.MarketData.StreamURL, cfg.Broker.APIKey, cfg.Broker.APISecret))
	}
	feed := marketdata.NewFeed(cfg.MarketData.Feed, symbols, log, feedOpts...)
	live := engine.NewLive(feed, st.eng, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return status.Serve(gctx, cfg.App.APIAddr) })
	g.Go(func() error {
		defer cancel()
		return live.Run(gctx)
	})
	log.Info().Strs("symbols", symbols).Str("feed", cfg.MarketData.Feed).Str("broker", cfg.Broker.Provider).Msg("live engine started")
	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info().Int("open_positions", len(st.eng.OpenPositions())).Msg("shutting down")
	return nil
}

// warm replays recent history from the configured source so indicators are defined on the first live bar.
func warm(ctx context.Context, cfg *config.Config, st *stack, symbols []string) error {
	if cfg.MarketData.WarmupDays <= 0 {
		return nil
	}
	src, closeSrc, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSrc()

	from := time.Now().UTC().AddDate(0, 0, -cfg.MarketData.WarmupDays)
	var errs []error
	for _, symbol := range symbols {
		bars, err := marketdata.Collect(src.Bars(ctx, symbol, from, time.Time{}))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		st.eng.Warm(symbol, bars)
	}
	return errors.Join(errs...)
}
