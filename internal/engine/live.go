package engine

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	sig "donchianbot/internal/signal"
)

// BarFeed pushes live bars until ctx is done. *marketdata.Feed satisfies it.
type BarFeed interface {
	Run(ctx context.Context, out chan<- sig.Bar) error
}

// Live drives an Engine from a streaming feed.
type Live struct {
	feed   BarFeed
	eng    *Engine
	log    zerolog.Logger
	buffer int
}

// NewLive wires feed into eng.
func NewLive(feed BarFeed, eng *Engine, log zerolog.Logger) *Live {
	return &Live{feed: feed, eng: eng, log: log, buffer: 256}
}

// Run processes bars in arrival order until ctx is canceled or the feed fails.
// Cancellation is honored between bars. A canceled ctx is reported as a nil error.
func (l *Live) Run(ctx context.Context) error {
	bars := make(chan sig.Bar, l.buffer)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return l.feed.Run(gctx, bars)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case bar := <-bars:
				s, err := l.eng.ProcessBar(gctx, bar.Symbol, bar)
				if err != nil {
					l.log.Error().Err(err).Str("sym", bar.Symbol).Int64("signal_id", s.ID).Msg("bar not applied")
				}
			}
		}
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}
