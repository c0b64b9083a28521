// Package api serves a read-only view of positions, trades and performance over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"donchianbot/internal/metrics"
	"donchianbot/internal/performance"
	sig "donchianbot/internal/signal"
)

// Tracker is the subset of the engine the API reads from.
type Tracker interface {
	OpenPosition(stock string) (sig.OpenPosition, bool)
	OpenPositions() []sig.OpenPosition
	TradeLog() []sig.Trade
	// Mark is the instrument's latest close, used to value open positions.
	Mark(stock string) (float64, bool)
}

// positionView is an open position valued at the latest mark. Mark fields are omitted until a bar
// for the instrument has been seen.
type positionView struct {
	sig.OpenPosition
	Notional   float64  `json:"notional"`
	Mark       *float64 `json:"mark,omitempty"`
	Unrealized *float64 `json:"unrealized,omitempty"`
}

func (s *Server) view(pos sig.OpenPosition) positionView {
	v := positionView{OpenPosition: pos, Notional: pos.Notional()}
	if mark, ok := s.tracker.Mark(pos.Stock); ok {
		unrealized := pos.Unrealized(mark)
		v.Mark, v.Unrealized = &mark, &unrealized
	}
	return v
}

// Server exposes Tracker state as JSON.
type Server struct {
	tracker Tracker
	log     zerolog.Logger
	started time.Time
	router  *gin.Engine
}

// NewServer builds the router. Call gin.SetMode before this to silence debug output.
func NewServer(tracker Tracker, log zerolog.Logger) *Server {
	s := &Server{tracker: tracker, log: log, started: time.Now().UTC()}
	router := gin.New()
	router.Use(gin.Recovery(), s.logRequests)
	router.GET("/healthz", s.health)
	router.GET("/positions", s.positions)
	router.GET("/positions/:symbol", s.position)
	router.GET("/trades", s.trades)
	router.GET("/performance", s.performance)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	s.router = router
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("status api listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debug().Str("method", c.Request.Method).Str("path", c.FullPath()).
		Int("status", c.Writer.Status()).Dur("took", time.Since(start)).Msg("api request")
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"open_positions": len(s.tracker.OpenPositions()),
	})
}

func (s *Server) positions(c *gin.Context) {
	open := s.tracker.OpenPositions()
	views := make([]positionView, 0, len(open))
	for _, pos := range open {
		views = append(views, s.view(pos))
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) position(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	pos, ok := s.tracker.OpenPosition(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no open position for " + symbol})
		return
	}
	c.JSON(http.StatusOK, s.view(pos))
}

func (s *Server) trades(c *gin.Context) {
	trades := s.tracker.TradeLog()
	if symbol := c.Query("symbol"); symbol != "" {
		symbol = strings.ToUpper(symbol)
		filtered := trades[:0:0]
		for _, t := range trades {
			if t.Stock == symbol {
				filtered = append(filtered, t)
			}
		}
		trades = filtered
	}
	c.JSON(http.StatusOK, trades)
}

func (s *Server) performance(c *gin.Context) {
	c.JSON(http.StatusOK, performance.Compute(s.tracker.TradeLog()))
}
