package domain

import (
	"errors"
	"fmt"
)

// ValidationError reports an order that failed local pre-checks (malformed,
// insufficient funds, insufficient position). It never reaches the broker.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// BrokerError reports a failure from the broker capability. Transient errors
// (timeouts, rate limits) may be retried; permanent rejections are surfaced
// as a terminal order state.
type BrokerError struct {
	Reason    string
	Transient bool
	Err       error
}

func (e *BrokerError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Err != nil {
		return fmt.Sprintf("broker (%s): %s: %v", kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("broker (%s): %s", kind, e.Reason)
}

func (e *BrokerError) Unwrap() error { return e.Err }

// IsTransientBroker reports whether err is a BrokerError marked transient.
func IsTransientBroker(err error) bool {
	var be *BrokerError
	return errors.As(err, &be) && be.Transient
}

// ConsistencyError reports a broken accounting invariant, such as a fill
// exceeding its order quantity. It is fatal for the affected symbol:
// processing halts until external reconciliation.
type ConsistencyError struct {
	Symbol string
	Reason string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency (%s): %s", e.Symbol, e.Reason)
}

// DataGapError reports a non-monotonic or missing candle. Fatal in backtests,
// tolerated (logged) in live mode.
type DataGapError struct {
	Symbol string
	Reason string
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("data gap (%s): %s", e.Symbol, e.Reason)
}
