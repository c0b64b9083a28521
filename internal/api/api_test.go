package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	sig "donchianbot/internal/signal"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeTracker struct {
	open   []sig.OpenPosition
	trades []sig.Trade
	marks  map[string]float64
}

func (f *fakeTracker) OpenPosition(stock string) (sig.OpenPosition, bool) {
	for _, p := range f.open {
		if p.Stock == stock {
			return p, true
		}
	}
	return sig.OpenPosition{}, false
}

func (f *fakeTracker) OpenPositions() []sig.OpenPosition { return f.open }
func (f *fakeTracker) TradeLog() []sig.Trade             { return f.trades }

func (f *fakeTracker) Mark(stock string) (float64, bool) {
	px, ok := f.marks[stock]
	return px, ok
}

func newTracker() *fakeTracker {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tracker := &fakeTracker{
		open: []sig.OpenPosition{
			{ID: 3, Stock: "AAPL", Direction: sig.Long, Date: day, EntryPrice: 180, QuantityType: sig.Shares, Quantity: 5, EntrySignalID: 40},
		},
		trades: []sig.Trade{
			{ID: 1, Stock: "MSFT", Direction: sig.Long, ExitDate: day.AddDate(0, 0, -5), NetResult: decimal.NewFromInt(30), GrossResult: decimal.NewFromInt(30)},
			{ID: 2, Stock: "AAPL", Direction: sig.Short, ExitDate: day.AddDate(0, 0, -2), NetResult: decimal.NewFromInt(-10), GrossResult: decimal.NewFromInt(-10)},
		},
	}
	tracker.marks = map[string]float64{"AAPL": 184}
	return tracker
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := NewServer(newTracker(), zerolog.Nop())
	w := get(t, s, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	require.EqualValues(t, 1, body["open_positions"])
}

func TestPositions(t *testing.T) {
	s := NewServer(newTracker(), zerolog.Nop())

	w := get(t, s, "/positions")
	require.Equal(t, http.StatusOK, w.Code)
	var all []sig.OpenPosition
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	require.Len(t, all, 1)
	require.Equal(t, sig.Long, all[0].Direction)

	w = get(t, s, "/positions/aapl")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"direction":"long"`)
	require.Contains(t, w.Body.String(), `"quantity_type":"shares"`)

	var one struct {
		Stock      string   `json:"stock"`
		Notional   float64  `json:"notional"`
		Mark       *float64 `json:"mark"`
		Unrealized *float64 `json:"unrealized"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &one))
	require.Equal(t, "AAPL", one.Stock)
	require.InDelta(t, 900, one.Notional, 1e-9)
	require.NotNil(t, one.Unrealized)
	require.InDelta(t, 184, *one.Mark, 1e-9)
	require.InDelta(t, 20, *one.Unrealized, 1e-9)

	w = get(t, s, "/positions/TSLA")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "TSLA")
}

func TestPositionWithoutMarkOmitsUnrealized(t *testing.T) {
	tracker := newTracker()
	tracker.marks = nil
	tracker.open[0].Direction = sig.Short
	s := NewServer(tracker, zerolog.Nop())

	w := get(t, s, "/positions")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"notional":900`)
	require.NotContains(t, w.Body.String(), "unrealized")
}

func TestTradesFilter(t *testing.T) {
	s := NewServer(newTracker(), zerolog.Nop())

	w := get(t, s, "/trades")
	require.Equal(t, http.StatusOK, w.Code)
	var trades []sig.Trade
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trades))
	require.Len(t, trades, 2)

	w = get(t, s, "/trades?symbol=msft")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trades))
	require.Len(t, trades, 1)
	require.Equal(t, "MSFT", trades[0].Stock)
}

func TestPerformance(t *testing.T) {
	s := NewServer(newTracker(), zerolog.Nop())
	w := get(t, s, "/performance")
	require.Equal(t, http.StatusOK, w.Code)

	var summary struct {
		Trades      int             `json:"trades"`
		Wins        int             `json:"wins"`
		NetPnL      decimal.Decimal `json:"net_pnl"`
		MaxDrawdown decimal.Decimal `json:"max_drawdown"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	require.Equal(t, 2, summary.Trades)
	require.Equal(t, 1, summary.Wins)
	require.True(t, summary.NetPnL.Equal(decimal.NewFromInt(20)), "net pnl %s", summary.NetPnL)
	require.True(t, summary.MaxDrawdown.Equal(decimal.NewFromInt(10)), "drawdown %s", summary.MaxDrawdown)
}

func TestMetricsEndpoint(t *testing.T) {
	s := NewServer(newTracker(), zerolog.Nop())
	w := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "# HELP")
}
