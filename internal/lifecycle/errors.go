package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"donchianbot/internal/indicator"
	sig "donchianbot/internal/signal"
)

var (
	// ErrInsufficientHistory is reported when a decision is requested before indicators are ready.
	ErrInsufficientHistory = indicator.ErrInsufficientHistory
	// ErrMalformedBar is reported for bars the indicator engine rejected.
	ErrMalformedBar = indicator.ErrMalformedBar
	// ErrInvalidTransition marks a signal that does not fit the instrument's position state.
	ErrInvalidTransition = errors.New("invalid position transition")
	// ErrExecutionFailure marks an order the broker refused or did not fill.
	ErrExecutionFailure = errors.New("execution failure")
	// ErrPersistence marks a store write that failed after in-memory state was committed.
	ErrPersistence = errors.New("persistence failure")
)

// TransitionError ties a lifecycle failure to the signal that caused it.
type TransitionError struct {
	Stock    string
	Date     time.Time
	SignalID int64
	Signal   sig.SignalType
	Err      error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s signal #%d at %s: %v", e.Stock, e.Signal, e.SignalID, e.Date.Format(time.RFC3339), e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

func transitionErr(s sig.Signal, err error) *TransitionError {
	return &TransitionError{Stock: s.Stock, Date: s.Date, SignalID: s.ID, Signal: s.Type, Err: err}
}
