package paper

import (
	"sync"

	"donchianbot/internal/execution"
)

// Ledger stores paper fills in memory for quick inspection.
type Ledger struct {
	mu    sync.Mutex
	fills []execution.Fill
}

// NewLedger creates an empty ledger optionally pre-sizing storage.
func NewLedger(capacity int) *Ledger {
	return &Ledger{fills: make([]execution.Fill, 0, max(capacity, 0))}
}

// Record appends a fill to the ledger.
func (l *Ledger) Record(fill execution.Fill) {
	l.mu.Lock()
	l.fills = append(l.fills, fill)
	l.mu.Unlock()
}

// Snapshot returns a copy of the recorded fills.
func (l *Ledger) Snapshot() []execution.Fill {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]execution.Fill, len(l.fills))
	copy(out, l.fills)
	return out
}

// Symbol returns the fills recorded for one symbol in arrival order.
func (l *Ledger) Symbol(symbol string) []execution.Fill {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []execution.Fill
	for _, f := range l.fills {
		if f.Symbol == symbol {
			out = append(out, f)
		}
	}
	return out
}

// Reset clears all stored fills.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.fills = l.fills[:0]
	l.mu.Unlock()
}

// Tee fans each fill out to every recorder.
type Tee []FillRecorder

// Record forwards fill to each non-nil recorder.
func (t Tee) Record(fill execution.Fill) {
	for _, r := range t {
		if r != nil {
			r.Record(fill)
		}
	}
}
