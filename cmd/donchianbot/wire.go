package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"donchianbot/internal/broker/alpaca"
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

// stack is the wired engine plus whatever needs closing when the command exits.
type stack struct {
	eng     *engine.Engine
	account *paper.Account // nil when orders go to a real broker
	ledger  *paper.Ledger
	store   *store.BadgerStore
	closers []func() error
}

func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// buildStack wires broker, lifecycle manager and engine from cfg. Backtests always fill on the
// paper account; live sessions use cfg.Broker.Provider. Store records are namespaced by ns.
// A positive instruments splits the paper account into that many independent capital pools.
func buildStack(cfg *config.Config, log zerolog.Logger, ns string, live bool, instruments int) (*stack, error) {
	st := &stack{ledger: paper.NewLedger(1024)}
	fail := func(err error) (*stack, error) {
		_ = st.Close()
		return nil, err
	}

	commission, err := cfg.Commission.Build()
	if err != nil {
		return nil, fmt.Errorf("commission: %w", err)
	}
	opts := []lifecycle.Option{lifecycle.WithCommission(commission)}

	if cfg.Store.Enabled {
		scfg := cfg.Store.Config
		scfg.Namespace = ns
		db, err := store.Open(scfg, log)
		if err != nil {
			return fail(err)
		}
		st.store = db
		st.closers = append(st.closers, db.Close)
		opts = append(opts, lifecycle.WithStore(db))
	}

	var recorder *paper.JSONLRecorder
	if cfg.Paper.TradesPath != "" {
		recorder, err = paper.NewJSONLRecorder(cfg.Paper.TradesPath)
		if err != nil {
			return fail(fmt.Errorf("open trades file: %w", err))
		}
		st.closers = append(st.closers, recorder.Close)
	}

	var broker execution.Broker
	if live && cfg.Broker.Provider == config.BrokerAlpaca {
		if cfg.Broker.APIKey == "" || cfg.Broker.APISecret == "" {
			return fail(errors.New("alpaca broker needs ALPACA_API_KEY and ALPACA_SECRET_KEY"))
		}
		client := alpaca.NewClient(cfg.Broker.BaseURL, cfg.Broker.APIKey, cfg.Broker.APISecret)
		if cfg.Broker.FillTimeout > 0 {
			client.FillTimeout = cfg.Broker.FillTimeout
		}
		broker = client
	} else {
		fills := paper.Tee{st.ledger}
		if cfg.Paper.FillsPath != "" {
			fillRec, err := paper.NewJSONLRecorder(cfg.Paper.FillsPath)
			if err != nil {
				return fail(fmt.Errorf("open fills file: %w", err))
			}
			st.closers = append(st.closers, fillRec.Close)
			fills = append(fills, fillRec)
		}
		st.account = paper.NewAccount(cfg.Paper.StartingCash, cfg.Paper.MaxPositionPerSymbol)
		broker = paper.NewBroker(st.account, paper.WithSlippage(cfg.Paper.SlippageBps), paper.WithRecorder(fills))
		if instruments > 0 {
			opts = append(opts, lifecycle.WithAllocation(st.account.Allocate(instruments)))
		}
	}

	exec := execution.NewExecutor(broker, log)
	mgr := lifecycle.NewManager(exec, cfg.Sizing, log, opts...)
	gen, err := strategy.Build(cfg.Strategy.Mode, cfg.Strategy.Params)
	if err != nil {
		return fail(err)
	}

	var engOpts []engine.Option
	if recorder != nil {
		engOpts = append(engOpts, engine.WithTradeHook(func(t sig.Trade) {
			if err := recorder.RecordTrade(t); err != nil {
				log.Warn().Err(err).Int64("trade_id", t.ID).Msg("record trade")
			}
		}))
	}
	st.eng = engine.New(cfg.Strategy.Indicators, gen, mgr, log, engOpts...)
	return st, nil
}

// openSource returns the configured historical bar source and its closer.
func openSource(ctx context.Context, cfg *config.Config) (marketdata.Source, func() error, error) {
	switch cfg.MarketData.Source {
	case "clickhouse":
		src, err := marketdata.OpenClickHouse(ctx, cfg.MarketData.ClickHouse)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	default:
		return marketdata.NewCSVSource(cfg.MarketData.CSVDir), func() error { return nil }, nil
	}
}
