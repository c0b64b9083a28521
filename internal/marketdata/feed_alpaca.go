package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gorilla/websocket"

	sig "donchianbot/internal/signal"
)

// alpacaMessage covers the control and bar frames of the market data stream.
type alpacaMessage struct {
	Type   string    `json:"T"`
	Msg    string    `json:"msg"`
	Code   int       `json:"code"`
	Symbol string    `json:"S"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
	Time   time.Time `json:"t"`
}

type alpacaAuth struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

type alpacaSubscribe struct {
	Action string   `json:"action"`
	Bars   []string `json:"bars"`
}

var errAlpacaAuth = errors.New("alpaca stream authentication failed")

func (f *Feed) runAlpaca(ctx context.Context, out chan<- sig.Bar) error {
	if len(f.Symbols()) == 0 {
		return fmt.Errorf("alpaca feed requires at least one symbol")
	}

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.consumeAlpacaStream(ctx, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, errAlpacaAuth) {
				return err
			}
			f.log.Warn().Err(err).Dur("backoff", backoff).Msg("alpaca feed disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (f *Feed) consumeAlpacaStream(ctx context.Context, out chan<- sig.Bar) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.alpacaURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock ReadMessage on cancellation.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	conn.SetReadLimit(1 << 20)
	if err := f.alpacaHandshake(conn); err != nil {
		return err
	}
	f.log.Info().Str("provider", ProviderAlpaca).Strs("symbols", f.Symbols()).Msg("connected market data feed")

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var batch []alpacaMessage
		if err := json.Unmarshal(message, &batch); err != nil {
			f.log.Warn().Err(err).Msg("failed to decode alpaca message")
			continue
		}
		for _, m := range batch {
			switch m.Type {
			case "u":
				// Corrections repeat the minute of a bar already emitted.
				f.log.Debug().Str("sym", m.Symbol).Time("bar_time", m.Time).Msg("ignoring updated bar")
			case "b":
				bar := sig.Bar{Symbol: m.Symbol, Time: m.Time.UTC(), Open: m.Open, High: m.High, Low: m.Low, Close: m.Close, Volume: m.Volume}
				if err := f.emit(ctx, out, bar); err != nil {
					return err
				}
			case "error":
				return fmt.Errorf("alpaca stream error %d: %s", m.Code, m.Msg)
			}
		}
	}
}

// alpacaHandshake waits for the connected greeting, authenticates and subscribes to bars.
func (f *Feed) alpacaHandshake(conn *websocket.Conn) error {
	deadline := time.Now().Add(10 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	if _, err := expectControl(conn, "connected"); err != nil {
		return err
	}
	if err := conn.WriteJSON(alpacaAuth{Action: "auth", Key: f.apiKey, Secret: f.apiSecret}); err != nil {
		return err
	}
	if _, err := expectControl(conn, "authenticated"); err != nil {
		return fmt.Errorf("%w: %v", errAlpacaAuth, err)
	}
	if err := conn.WriteJSON(alpacaSubscribe{Action: "subscribe", Bars: f.Symbols()}); err != nil {
		return err
	}
	var ack []alpacaMessage
	if err := conn.ReadJSON(&ack); err != nil {
		return err
	}
	for _, m := range ack {
		if m.Type == "error" {
			return fmt.Errorf("alpaca subscribe error %d: %s", m.Code, m.Msg)
		}
	}
	return nil
}

func expectControl(conn *websocket.Conn, want string) (alpacaMessage, error) {
	var batch []alpacaMessage
	if err := conn.ReadJSON(&batch); err != nil {
		return alpacaMessage{}, err
	}
	for _, m := range batch {
		switch {
		case m.Type == "success" && m.Msg == want:
			return m, nil
		case m.Type == "error":
			return m, fmt.Errorf("alpaca error %d: %s", m.Code, m.Msg)
		}
	}
	return alpacaMessage{}, fmt.Errorf("expected %q control message, got %+v", want, batch)
}
