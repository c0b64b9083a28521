package marketdata

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	sig "donchianbot/internal/signal"
)

const (
	// ProviderStub emits deterministic synthetic bars (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderAlpaca streams minute bars from the Alpaca market data websocket.
	ProviderAlpaca = "alpaca"
)

const (
	defaultStubInterval = 500 * time.Millisecond
	defaultAlpacaURL    = "wss://stream.data.alpaca.markets/v2/iex"
)

// Feed represents a pluggable live bar stream.
type Feed struct {
	provider     string
	symbols      []string
	log          zerolog.Logger
	stubInterval time.Duration
	stubStart    time.Time
	alpacaURL    string
	apiKey       string
	apiSecret    string
	mu           sync.RWMutex
}

// Option configures Feed construction parameters.
type Option func(*Feed)

// WithStubInterval overrides how often the stub provider emits a bar per symbol.
func WithStubInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.stubInterval = d
		}
	}
}

// WithStubStart fixes the timestamp of the first synthetic bar.
func WithStubStart(ts time.Time) Option {
	return func(f *Feed) { f.stubStart = ts }
}

// WithAlpaca sets the stream URL and credentials for the alpaca provider.
func WithAlpaca(url, key, secret string) Option {
	return func(f *Feed) {
		if url != "" {
			f.alpacaURL = url
		}
		f.apiKey, f.apiSecret = key, secret
	}
}

// NewFeed constructs a feed backed by the requested provider.
func NewFeed(provider string, symbols []string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:     strings.ToLower(provider),
		log:          log,
		stubInterval: defaultStubInterval,
		stubStart:    time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC),
		alpacaURL:    defaultAlpacaURL,
	}
	f.setSymbols(symbols)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetSymbols replaces the tracked symbol list (deduplicated, sorted for determinism).
func (f *Feed) SetSymbols(symbols []string) {
	f.setSymbols(symbols)
}

func (f *Feed) setSymbols(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		unique[sym] = struct{}{}
	}
	f.symbols = f.symbols[:0]
	for sym := range unique {
		f.symbols = append(f.symbols, sym)
	}
	sort.Strings(f.symbols)
}

// Symbols returns the tracked symbols.
func (f *Feed) Symbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// Run pushes bars onto the provided channel until the context is canceled.
func (f *Feed) Run(ctx context.Context, out chan<- sig.Bar) error {
	switch f.provider {
	case ProviderAlpaca:
		return f.runAlpaca(ctx, out)
	default:
		return f.runStub(ctx, out)
	}
}

func (f *Feed) emit(ctx context.Context, out chan<- sig.Bar, bar sig.Bar) error {
	select {
	case out <- bar:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StubBar is the i-th synthetic daily bar: a slow sine wave on a gentle uptrend.
func StubBar(symbol string, start time.Time, i int) sig.Bar {
	px := func(n int) float64 { return 100 + 8*math.Sin(float64(n)/9) + 0.15*float64(n) }
	open, close := px(i-1), px(i)
	return sig.Bar{
		Symbol: symbol,
		Time:   start.AddDate(0, 0, i),
		Open:   open,
		High:   math.Max(open, close) + 0.5,
		Low:    math.Min(open, close) - 0.5,
		Close:  close,
		Volume: 1000,
	}
}

func (f *Feed) runStub(ctx context.Context, out chan<- sig.Bar) error {
	ticker := time.NewTicker(f.stubInterval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, s := range f.Symbols() {
				if err := f.emit(ctx, out, StubBar(s, f.stubStart, i)); err != nil {
					return err
				}
			}
		}
	}
}
