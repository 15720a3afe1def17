package repositories

import (
	"errors"
	"fmt"
	"strings"
)

// CounterErrorCode enumerates failure reasons for counter operations.
type CounterErrorCode string

const (
	CounterErrorUnknown      CounterErrorCode = "counter_unknown"
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorExhausted indicates the next value would pass the configured max value.
	CounterErrorExhausted CounterErrorCode = "counter_exhausted"
)

// CounterError wraps counter-specific failures with machine readable codes.
type CounterError struct {
	Op      string
	Code    CounterErrorCode
	Message string
	Err     error
}

func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCounterError constructs a typed counter error.
func NewCounterError(code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsCounterExhausted reports whether err carries the exhausted code.
func IsCounterExhausted(err error) bool {
	var counterErr *CounterError
	return errors.As(err, &counterErr) && counterErr.Code == CounterErrorExhausted
}

// NormalizeCounterID trims the id and rejects blanks.
func NormalizeCounterID(counterID string) (string, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return "", NewCounterError(CounterErrorInvalidInput, "counter id is required", nil)
	}
	return id, nil
}

// NextCounterValue computes the value that follows current. A non-positive step falls back to the
// stored step and then to 1. The returned step is the increment that was applied.
func NextCounterValue(counterID string, current, storedStep int64, maxValue *int64, step int64) (int64, int64, error) {
	if step < 0 {
		return 0, 0, NewCounterError(CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}
	increment := step
	if increment == 0 {
		increment = storedStep
	}
	if increment <= 0 {
		increment = 1
	}
	next := current + increment
	if maxValue != nil && next > *maxValue {
		return 0, 0, NewCounterError(CounterErrorExhausted, fmt.Sprintf("counter %s exceeded max value %d", counterID, *maxValue), nil)
	}
	return next, increment, nil
}
