// Package store persists signals, open positions and trades in BadgerDB.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	sig "donchianbot/internal/signal"
)

// Config controls where and how the database is opened.
type Config struct {
	Path       string `yaml:"path"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
	// Namespace isolates one run's records; backtests use their run id.
	Namespace string `yaml:"namespace"`
}

type badgerLogger struct{ log zerolog.Logger }

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(strings.TrimSpace(format), args...)
}

// BadgerStore implements the lifecycle persistence interface with JSON values under namespaced keys.
type BadgerStore struct {
	db        *badger.DB
	namespace string
	owned     bool
}

// Open opens (or creates) the database described by cfg.
func Open(cfg Config, log zerolog.Logger) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{log: log.With().Str("component", "badger").Logger()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	s := New(db, cfg.Namespace)
	s.owned = true
	return s, nil
}

// New wraps an already open database. The caller keeps ownership of db.
func New(db *badger.DB, namespace string) *BadgerStore {
	if namespace == "" {
		namespace = "default"
	}
	return &BadgerStore{db: db, namespace: namespace}
}

// Namespace returns the key namespace in use.
func (s *BadgerStore) Namespace() string { return s.namespace }

// WithNamespace returns a store over the same database scoped to another namespace.
func (s *BadgerStore) WithNamespace(namespace string) *BadgerStore {
	return New(s.db, namespace)
}

// Close closes the database when this store opened it.
func (s *BadgerStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *BadgerStore) signalKey(id int64) []byte {
	return fmt.Appendf(nil, "sig/%s/%020d", s.namespace, id)
}

func (s *BadgerStore) positionKey(stock string) []byte {
	return fmt.Appendf(nil, "pos/%s/%s", s.namespace, stock)
}

func (s *BadgerStore) tradeKey(id int64) []byte {
	return fmt.Appendf(nil, "trade/%s/%020d", s.namespace, id)
}

// runKey is not namespaced: runs are listed across namespaces.
func runKey(id string) []byte {
	return fmt.Appendf(nil, "run/%s", id)
}

func (s *BadgerStore) prefix(kind string) []byte {
	return fmt.Appendf(nil, "%s/%s/", kind, s.namespace)
}

func put(txn *badger.Txn, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, raw)
}

// SaveSignal stores s under its id.
func (s *BadgerStore) SaveSignal(ctx context.Context, v sig.Signal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return put(txn, s.signalKey(v.ID), v)
	})
}

// SavePosition stores the instrument's open position, replacing any previous one.
func (s *BadgerStore) SavePosition(ctx context.Context, pos sig.OpenPosition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return put(txn, s.positionKey(pos.Stock), pos)
	})
}

// SaveTrade stores the trade and deletes the instrument's open position in one transaction.
func (s *BadgerStore) SaveTrade(ctx context.Context, trade sig.Trade) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := put(txn, s.tradeKey(trade.ID), trade); err != nil {
			return err
		}
		return txn.Delete(s.positionKey(trade.Stock))
	})
}

// LoadOpenPosition returns the stored open position for stock.
func (s *BadgerStore) LoadOpenPosition(ctx context.Context, stock string) (sig.OpenPosition, bool, error) {
	if err := ctx.Err(); err != nil {
		return sig.OpenPosition{}, false, err
	}
	var pos sig.OpenPosition
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.positionKey(stock))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &pos) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return sig.OpenPosition{}, false, nil
	}
	if err != nil {
		return sig.OpenPosition{}, false, fmt.Errorf("load position %s: %w", stock, err)
	}
	return pos, true, nil
}

// OpenPositions lists every stored open position ordered by instrument.
func (s *BadgerStore) OpenPositions(ctx context.Context) ([]sig.OpenPosition, error) {
	return scan[sig.OpenPosition](ctx, s.db, s.prefix("pos"))
}

// Trades lists stored trades in id order.
func (s *BadgerStore) Trades(ctx context.Context) ([]sig.Trade, error) {
	return scan[sig.Trade](ctx, s.db, s.prefix("trade"))
}

// LastSignalID returns the highest stored signal id in the namespace, 0 when none.
func (s *BadgerStore) LastSignalID(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	prefix := s.prefix("sig")
	var last int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		// keys are zero padded, so the largest id sorts last
		it.Seek(append(slices.Clone(prefix), 0xff))
		if !it.Valid() {
			return nil
		}
		raw := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("parse signal key %q: %w", it.Item().Key(), err)
		}
		last = id
		return nil
	})
	return last, err
}

// SaveRun creates or replaces the run record.
func (s *BadgerStore) SaveRun(ctx context.Context, run sig.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return put(txn, runKey(run.ID), run)
	})
}

// LoadRun returns the run record with id.
func (s *BadgerStore) LoadRun(ctx context.Context, id string) (sig.Run, bool, error) {
	if err := ctx.Err(); err != nil {
		return sig.Run{}, false, err
	}
	var run sig.Run
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &run) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return sig.Run{}, false, nil
	}
	if err != nil {
		return sig.Run{}, false, fmt.Errorf("load run %s: %w", id, err)
	}
	return run, true, nil
}

// Runs lists every run record ordered by start time.
func (s *BadgerStore) Runs(ctx context.Context) ([]sig.Run, error) {
	runs, err := scan[sig.Run](ctx, s.db, []byte("run/"))
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(runs, func(a, b sig.Run) int { return a.Started.Compare(b.Started) })
	return runs, nil
}

// Signals lists stored signals in id order.
func (s *BadgerStore) Signals(ctx context.Context) ([]sig.Signal, error) {
	return scan[sig.Signal](ctx, s.db, s.prefix("sig"))
}

func scan[T any](ctx context.Context, db *badger.DB, prefix []byte) ([]T, error) {
	var out []T
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var v T
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &v) }); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}
