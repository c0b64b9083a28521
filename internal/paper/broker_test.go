package paper

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"donchianbot/internal/execution"
	sig "donchianbot/internal/signal"
)

func TestBrokerFillsAtReferencePrice(t *testing.T) {
	ledger := NewLedger(4)
	broker := NewBroker(NewAccount(10_000, 0), WithRecorder(ledger))
	ts := time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC)

	fill, err := broker.PlaceOrder(context.Background(), execution.Order{
		Symbol: "AAPL", Side: execution.Buy, Qty: 10, QuantityType: sig.Shares, Price: 185, Time: ts,
	})
	if err != nil {
		t.Fatalf("PlaceOrder error: %v", err)
	}
	if fill.Price != 185 || fill.Qty != 10 || !fill.Time.Equal(ts) {
		t.Fatalf("unexpected fill %+v", fill)
	}
	if len(ledger.Symbol("AAPL")) != 1 {
		t.Fatalf("expected fill recorded")
	}
	bal, err := broker.Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance error: %v", err)
	}
	if math.Abs(bal-8150) > 1e-9 {
		t.Fatalf("expected 8150 free, got %.2f", bal)
	}
}

func TestBrokerSlippageAndCapitalQuantity(t *testing.T) {
	broker := NewBroker(NewAccount(10_000, 0), WithSlippage(10))
	fill, err := broker.PlaceOrder(context.Background(), execution.Order{
		Symbol: "AAPL", Side: execution.Sell, Qty: 1000, QuantityType: sig.Capital, Price: 100,
	})
	if err != nil {
		t.Fatalf("PlaceOrder error: %v", err)
	}
	if math.Abs(fill.Price-99.9) > 1e-9 {
		t.Fatalf("expected sell slipped to 99.9, got %.4f", fill.Price)
	}
	if math.Abs(fill.Qty-10) > 1e-9 {
		t.Fatalf("expected 10 shares, got %.4f", fill.Qty)
	}
}

func TestBrokerRejectsUnaffordableOrder(t *testing.T) {
	broker := NewBroker(NewAccount(100, 0))
	_, err := broker.PlaceOrder(context.Background(), execution.Order{Symbol: "AAPL", Side: execution.Buy, Qty: 10, Price: 50})
	if !errors.Is(err, execution.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestBrokerHonoursCancelledContext(t *testing.T) {
	broker := NewBroker(NewAccount(100, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := broker.PlaceOrder(ctx, execution.Order{Symbol: "AAPL", Side: execution.Buy, Qty: 1, Price: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
