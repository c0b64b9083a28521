package signal

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// RunStatus is the state of a backtest run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// Run records one backtest: what was replayed, with which parameters, and how it ended.
type Run struct {
	ID         string          `json:"id"`
	Strategy   string          `json:"strategy"`
	Version    string          `json:"version"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Symbols    []string        `json:"symbols"`
	From       time.Time       `json:"from"`
	To         time.Time       `json:"to"`
	Started    time.Time       `json:"started"`
	Finished   time.Time       `json:"finished"`
	Status     RunStatus       `json:"status"`
	Bars       int             `json:"bars"`
	Trades     int             `json:"trades"`
	NetPnL     decimal.Decimal `json:"net_pnl"`
	Error      string          `json:"error,omitempty"`
}
