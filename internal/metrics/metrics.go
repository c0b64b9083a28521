package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BarsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bars_total", Help: "Count of bars ingested"},
		[]string{"symbol"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Signals emitted by type"},
		[]string{"symbol", "type"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted"},
		[]string{"symbol", "side"},
	)
	OrderFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "order_failures_total", Help: "Orders rejected or unfilled by the broker"},
		[]string{"symbol"},
	)
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trades_total", Help: "Closed trades"},
		[]string{"symbol", "direction"},
	)
	OpenPositions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "open_positions", Help: "1 while a position is open for the symbol"},
		[]string{"symbol"},
	)
	RealizedPnL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "realized_pnl", Help: "Cumulative net result of closed trades"},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(BarsTotal, SignalsTotal, OrdersTotal, OrderFailuresTotal, TradesTotal, OpenPositions, RealizedPnL)
}

// Handler exposes the default registry for embedding in other routers.
func Handler() http.Handler { return promhttp.Handler() }

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
