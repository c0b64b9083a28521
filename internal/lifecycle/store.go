package lifecycle

import (
	"context"

	sig "donchianbot/internal/signal"
)

// Store persists lifecycle records. Implementations must be safe for concurrent use.
type Store interface {
	SaveSignal(ctx context.Context, s sig.Signal) error
	SavePosition(ctx context.Context, pos sig.OpenPosition) error
	// SaveTrade records the closed trade and removes the instrument's open position atomically.
	SaveTrade(ctx context.Context, trade sig.Trade) error
	// LoadOpenPosition returns the stored open position for stock; ok is false when flat.
	LoadOpenPosition(ctx context.Context, stock string) (pos sig.OpenPosition, ok bool, err error)
	Trades(ctx context.Context) ([]sig.Trade, error)
	// LastSignalID is the highest stored signal id, 0 when none.
	LastSignalID(ctx context.Context) (int64, error)
}
