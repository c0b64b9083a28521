package signal

import (
	"fmt"
	"strings"
)

// SignalType enumerates the decisions a generator can emit.
type SignalType uint8

const (
	None SignalType = iota
	Entry
	Exit
	Reverse
	Error
)

var signalTypeNames = [...]string{None: "none", Entry: "entry", Exit: "exit", Reverse: "reverse", Error: "error"}

func (t SignalType) String() string {
	if int(t) < len(signalTypeNames) {
		return signalTypeNames[t]
	}
	return fmt.Sprintf("signal_type(%d)", uint8(t))
}

// MarshalText encodes the type using its lower-case name.
func (t SignalType) MarshalText() ([]byte, error) {
	if int(t) >= len(signalTypeNames) {
		return nil, fmt.Errorf("unknown signal type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a lower-case name produced by MarshalText.
func (t *SignalType) UnmarshalText(b []byte) error {
	v, err := ParseSignalType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseSignalType maps a case-insensitive name to a SignalType.
func ParseSignalType(s string) (SignalType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range signalTypeNames {
		if n == name {
			return SignalType(i), nil
		}
	}
	return None, fmt.Errorf("unknown signal type %q", s)
}

// Direction is the side of an exposure.
type Direction uint8

const (
	Long Direction = iota
	Short
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// Sign is +1 for Long and -1 for Short.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

func (d Direction) MarshalText() ([]byte, error) {
	if d > Short {
		return nil, fmt.Errorf("unknown direction %d", uint8(d))
	}
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ParseDirection accepts "long"/"short" and the order-side aliases "buy"/"sell".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	default:
		return Long, fmt.Errorf("unknown direction %q", s)
	}
}

// QuantityType gives the unit of OpenPosition.Quantity.
type QuantityType uint8

const (
	// Shares means Quantity counts units of the instrument.
	Shares QuantityType = iota
	// Capital means Quantity is a notional amount in account currency.
	Capital
)

func (q QuantityType) String() string {
	switch q {
	case Shares:
		return "shares"
	case Capital:
		return "capital"
	default:
		return fmt.Sprintf("quantity_type(%d)", uint8(q))
	}
}

func (q QuantityType) MarshalText() ([]byte, error) {
	if q > Capital {
		return nil, fmt.Errorf("unknown quantity type %d", uint8(q))
	}
	return []byte(q.String()), nil
}

func (q *QuantityType) UnmarshalText(b []byte) error {
	v, err := ParseQuantityType(string(b))
	if err != nil {
		return err
	}
	*q = v
	return nil
}

// ParseQuantityType maps "shares"/"capital" (also "notional") to a QuantityType.
func ParseQuantityType(s string) (QuantityType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "shares", "qty":
		return Shares, nil
	case "capital", "notional":
		return Capital, nil
	default:
		return Shares, fmt.Errorf("unknown quantity type %q", s)
	}
}
