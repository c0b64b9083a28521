package execution

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sig "donchianbot/internal/signal"

	"github.com/rs/zerolog"
)

type stubBroker struct {
	err    error
	orders []Order
}

func (b *stubBroker) PlaceOrder(_ context.Context, order Order) (Fill, error) {
	b.orders = append(b.orders, order)
	if b.err != nil {
		return Fill{}, b.err
	}
	return Fill{Symbol: order.Symbol, Side: order.Side, Qty: order.Shares(), Price: order.Price, Time: time.Unix(0, 0)}, nil
}

func (b *stubBroker) Balance(context.Context) (float64, error) { return 1000, nil }

func TestSubmitLogsOrder(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	exec := NewExecutor(&stubBroker{}, logger)
	fill, err := exec.Submit(context.Background(), Order{Symbol: "AAPL", Side: Buy, Qty: 1, Price: 190})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if fill.Price != 190 {
		t.Fatalf("expected fill at 190, got %.2f", fill.Price)
	}
	out := buf.String()
	if !strings.Contains(out, "AAPL") {
		t.Fatalf("log does not contain symbol: %s", out)
	}
}

func TestSubmitPropagatesBrokerError(t *testing.T) {
	broker := &stubBroker{err: ErrRejected}
	exec := NewExecutor(broker, zerolog.Nop())
	if _, err := exec.Submit(context.Background(), Order{Symbol: "AAPL", Side: Sell, Qty: 1, Price: 1}); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestSubmitRejectsZeroQuantity(t *testing.T) {
	broker := &stubBroker{}
	exec := NewExecutor(broker, zerolog.Nop())
	if _, err := exec.Submit(context.Background(), Order{Symbol: "AAPL", Side: Buy}); err == nil {
		t.Fatalf("expected error for zero quantity")
	}
	if len(broker.orders) != 0 {
		t.Fatalf("broker should not see invalid orders")
	}
}

func TestSideFor(t *testing.T) {
	cases := []struct {
		dir     sig.Direction
		opening bool
		want    Side
	}{
		{sig.Long, true, Buy},
		{sig.Long, false, Sell},
		{sig.Short, true, Sell},
		{sig.Short, false, Buy},
	}
	for _, tc := range cases {
		if got := SideFor(tc.dir, tc.opening); got != tc.want {
			t.Fatalf("SideFor(%s, %v) = %s, want %s", tc.dir, tc.opening, got, tc.want)
		}
	}
}

func TestOrderSharesFromCapital(t *testing.T) {
	o := Order{Qty: 1000, QuantityType: sig.Capital, Price: 50}
	if o.Shares() != 20 {
		t.Fatalf("expected 20 shares, got %.2f", o.Shares())
	}
}
