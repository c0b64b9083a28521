package marketdata

import (
	"context"
	"fmt"
	"iter"
	"regexp"
	"time"

	sig "donchianbot/internal/signal"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ClickHouseConfig locates the candles table.
type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
	Interval string `yaml:"interval"`
}

type querier interface {
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
}

// ClickHouseSource reads bars from a candles table keyed by (symbol, interval, open_time_ms).
type ClickHouseSource struct {
	conn     querier
	query    string
	interval string
	closer   func() error
}

// OpenClickHouse connects and pings the server.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseSource, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": uint64(60),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	src, err := newClickHouseSource(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	src.closer = conn.Close
	return src, nil
}

func newClickHouseSource(conn querier, cfg ClickHouseConfig) (*ClickHouseSource, error) {
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Table == "" {
		cfg.Table = "candles"
	}
	if cfg.Interval == "" {
		cfg.Interval = "1d"
	}
	if !identRe.MatchString(cfg.Database) || !identRe.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid clickhouse table %s.%s", cfg.Database, cfg.Table)
	}
	query := fmt.Sprintf(`SELECT open_time_ms, open, high, low, close, volume
		FROM %s.%s FINAL
		WHERE symbol = ? AND interval = ? AND open_time_ms >= ? AND open_time_ms <= ?
		ORDER BY open_time_ms`, cfg.Database, cfg.Table)
	return &ClickHouseSource{conn: conn, query: query, interval: cfg.Interval}, nil
}

// Bars queries the symbol's candles in range and streams the rows.
func (s *ClickHouseSource) Bars(ctx context.Context, symbol string, from, to time.Time) iter.Seq2[sig.Bar, error] {
	return func(yield func(sig.Bar, error) bool) {
		lo, hi := uint64(0), uint64(1<<63-1)
		if !from.IsZero() {
			lo = uint64(max(from.UnixMilli(), 0))
		}
		if !to.IsZero() {
			hi = uint64(max(to.UnixMilli(), 0))
		}
		rows, err := s.conn.Query(ctx, s.query, symbol, s.interval, lo, hi)
		if err != nil {
			yield(sig.Bar{}, fmt.Errorf("query %s bars: %w", symbol, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				openMs uint64
				bar    = sig.Bar{Symbol: symbol}
			)
			if err := rows.Scan(&openMs, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
				yield(sig.Bar{}, fmt.Errorf("scan %s bar: %w", symbol, err))
				return
			}
			bar.Time = time.UnixMilli(int64(openMs)).UTC()
			if !yield(bar, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(sig.Bar{}, fmt.Errorf("iterate %s bars: %w", symbol, err))
		}
	}
}

// Close releases the connection when the source owns it.
func (s *ClickHouseSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
