package budget

import (
	"errors"
	"fmt"
)

// Kind names what ran out.
type Kind string

const (
	KindUnits    Kind = "units"
	KindDeadline Kind = "deadline"
)

// ExhaustedError is returned when a consume would overdraw the budget or its
// deadline has passed. It is advisory: callers stop spawning new work and
// finalize with what they have.
type ExhaustedError struct {
	Kind      Kind
	Requested float64
	Remaining float64
}

func (e ExhaustedError) Error() string {
	if e.Kind == KindDeadline {
		return fmt.Sprintf("budget deadline passed: requested=%.2f remaining=%.2f", e.Requested, e.Remaining)
	}
	return fmt.Sprintf("budget exhausted: requested=%.2f remaining=%.2f", e.Requested, e.Remaining)
}

// IsExhausted reports whether err carries a budget exhaustion signal.
func IsExhausted(err error) bool {
	var ee ExhaustedError
	return errors.As(err, &ee)
}
