// Package alpaca places market orders through the Alpaca trading REST API.
package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"donchianbot/internal/execution"
	sig "donchianbot/internal/signal"
)

// PaperURL is the paper-trading endpoint.
const PaperURL = "https://paper-api.alpaca.markets"

// Client implements execution.Broker against the Alpaca REST API.
type Client struct {
	Base         string
	Key          string
	Secret       string
	Http         *http.Client
	PollInterval time.Duration

	// FillTimeout bounds the wait for a fill. The order is canceled once it passes.
	FillTimeout time.Duration
}

// NewClient builds a client; an empty base selects the paper endpoint.
func NewClient(base, key, secret string) *Client {
	if base == "" {
		base = PaperURL
	}
	return &Client{
		Base:         strings.TrimSuffix(base, "/"),
		Key:          key,
		Secret:       secret,
		Http:         &http.Client{Timeout: 8 * time.Second},
		PollInterval: 500 * time.Millisecond,
		FillTimeout:  30 * time.Second,
	}
}

type orderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty,omitempty"`
	Notional      string `json:"notional,omitempty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

type orderResponse struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Status         string    `json:"status"`
	FilledQty      string    `json:"filled_qty"`
	FilledAvgPrice string    `json:"filled_avg_price"`
	FilledAt       time.Time `json:"filled_at"`
}

type account struct {
	Cash        string `json:"cash"`
	BuyingPower string `json:"buying_power"`
	Equity      string `json:"equity"`
}

var terminal = map[string]bool{
	"canceled":     true,
	"expired":      true,
	"rejected":     true,
	"done_for_day": true,
	"suspended":    true,
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("APCA-API-KEY-ID", c.Key)
	req.Header.Set("APCA-API-SECRET-KEY", c.Secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("alpaca %s %s status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnprocessableEntity {
			return fmt.Errorf("%w: %v", execution.ErrRejected, err)
		}
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// PlaceOrder submits a market day order and polls until it fills or reaches a terminal status.
// An order still open after FillTimeout is canceled and reported as execution.ErrRejected.
func (c *Client) PlaceOrder(ctx context.Context, order execution.Order) (execution.Fill, error) {
	req := orderRequest{
		Symbol:      order.Symbol,
		Side:        strings.ToLower(string(order.Side)),
		Type:        "market",
		TimeInForce: "day",
	}
	if order.SignalID > 0 {
		req.ClientOrderID = fmt.Sprintf("donchian-%d-%s", order.SignalID, strings.ToLower(string(order.Side)))
	}
	if order.QuantityType == sig.Capital {
		req.Notional = strconv.FormatFloat(order.Qty, 'f', 2, 64)
	} else {
		req.Qty = strconv.FormatFloat(order.Qty, 'f', -1, 64)
	}

	var placed orderResponse
	if err := c.do(ctx, http.MethodPost, "/v2/orders", req, &placed); err != nil {
		return execution.Fill{}, err
	}

	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()
	var expired <-chan time.Time
	if c.FillTimeout > 0 {
		deadline := time.NewTimer(c.FillTimeout)
		defer deadline.Stop()
		expired = deadline.C
	}
	cur := placed
	for {
		switch {
		case cur.Status == "filled":
			return toFill(order.Side, cur)
		case terminal[cur.Status]:
			return execution.Fill{}, fmt.Errorf("%w: order %s %s", execution.ErrRejected, cur.ID, cur.Status)
		}
		select {
		case <-ctx.Done():
			return execution.Fill{}, fmt.Errorf("wait for order %s: %w", placed.ID, ctx.Err())
		case <-expired:
			return c.abandon(ctx, order.Side, placed.ID)
		case <-ticker.C:
		}
		if err := c.do(ctx, http.MethodGet, "/v2/orders/"+placed.ID, nil, &cur); err != nil {
			return execution.Fill{}, err
		}
	}
}

// abandon cancels an order that did not fill in time. A fill that lands before the cancel is kept.
func (c *Client) abandon(ctx context.Context, side execution.Side, id string) (execution.Fill, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.do(ctx, http.MethodDelete, "/v2/orders/"+id, nil, nil); err != nil {
		return execution.Fill{}, fmt.Errorf("cancel unfilled order %s: %w", id, err)
	}
	var cur orderResponse
	if err := c.do(ctx, http.MethodGet, "/v2/orders/"+id, nil, &cur); err == nil && cur.Status == "filled" {
		return toFill(side, cur)
	}
	return execution.Fill{}, fmt.Errorf("%w: order %s not filled within %s", execution.ErrRejected, id, c.FillTimeout)
}

func toFill(side execution.Side, o orderResponse) (execution.Fill, error) {
	qty, err := strconv.ParseFloat(o.FilledQty, 64)
	if err != nil {
		return execution.Fill{}, fmt.Errorf("parse filled_qty %q: %w", o.FilledQty, err)
	}
	px, err := strconv.ParseFloat(o.FilledAvgPrice, 64)
	if err != nil {
		return execution.Fill{}, fmt.Errorf("parse filled_avg_price %q: %w", o.FilledAvgPrice, err)
	}
	return execution.Fill{Symbol: o.Symbol, Side: side, Qty: qty, Price: px, Time: o.FilledAt, OrderID: o.ID}, nil
}

// Balance returns the account's cash.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	var acct account
	if err := c.do(ctx, http.MethodGet, "/v2/account", nil, &acct); err != nil {
		return 0, err
	}
	cash, err := strconv.ParseFloat(acct.Cash, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cash %q: %w", acct.Cash, err)
	}
	return cash, nil
}
