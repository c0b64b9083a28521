package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestServeRegistersMetrics(t *testing.T) {
	srv := Serve(":0")
	defer srv.Close()

	BarsTotal.WithLabelValues("AAPL").Inc()
	SignalsTotal.WithLabelValues("AAPL", "entry").Inc()

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	want := map[string]bool{"bars_total": false, "signals_total": false}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("%s metric not found", name)
		}
	}
}

func TestGaugesTrackPositions(t *testing.T) {
	OpenPositions.WithLabelValues("MSFT").Set(1)
	if v := testutil.ToFloat64(OpenPositions.WithLabelValues("MSFT")); v != 1 {
		t.Fatalf("expected open position gauge 1, got %v", v)
	}
	OpenPositions.WithLabelValues("MSFT").Set(0)
	if v := testutil.ToFloat64(OpenPositions.WithLabelValues("MSFT")); v != 0 {
		t.Fatalf("expected open position gauge 0, got %v", v)
	}
}
