package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cleanline/api/internal/domain"
)

var (
	// ErrValidationFailed is matched by every *ValidationError.
	ErrValidationFailed = errors.New("wizard: validation failed")
	// ErrIllegalTransition is matched by every *IllegalTransitionError.
	ErrIllegalTransition = errors.New("wizard: illegal transition")
	// ErrIncompletePricing is matched by every *IncompletePricingError.
	ErrIncompletePricing = errors.New("wizard: incomplete pricing")

	// ErrPricingInvalidInput signals items or modifiers the catalog cannot price.
	ErrPricingInvalidInput = errors.New("wizard pricing: invalid input")

	ErrSessionNotFound    = errors.New("wizard: session not found")
	ErrSessionCancelled   = errors.New("wizard: session cancelled")
	ErrSessionStale       = errors.New("wizard: session changed elsewhere")
	ErrWizardInvalidInput = errors.New("wizard: invalid input")
	ErrWizardUnavailable  = errors.New("wizard: unavailable")
)

// ValidationError rejects a transition because the active step is not valid.
// Result always carries at least one blocking error.
type ValidationError struct {
	Scope  string
	Result domain.StepValidationResult
}

func newValidationError(scope string, result domain.StepValidationResult) *ValidationError {
	if len(result.BlockingErrors) == 0 {
		result.BlockingErrors = []string{fmt.Sprintf("%s is not complete", scope)}
	}
	result.Valid = false
	return &ValidationError{Scope: scope, Result: result}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidationFailed.Error(), e.Scope, strings.Join(e.Result.BlockingErrors, "; "))
}

// Is matches ErrValidationFailed.
func (e *ValidationError) Is(target error) bool { return target == ErrValidationFailed }

// IllegalTransitionError reports navigation attempted outside the guard policy.
type IllegalTransitionError struct {
	From      string
	Attempted string
	Reason    string
}

func illegalTransition(from, attempted, reason string) *IllegalTransitionError {
	return &IllegalTransitionError{From: from, Attempted: attempted, Reason: reason}
}

func (e *IllegalTransitionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s from %s: %s", ErrIllegalTransition.Error(), e.Attempted, e.From, e.Reason)
}

// Is matches ErrIllegalTransition.
func (e *IllegalTransitionError) Is(target error) bool { return target == ErrIllegalTransition }

// IncompletePricingError reports items that lack a price breakdown when totals were requested.
type IncompletePricingError struct {
	MissingItemIDs []string
}

func (e *IncompletePricingError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: items without breakdown [%s]", ErrIncompletePricing.Error(), strings.Join(e.MissingItemIDs, ", "))
}

// Is matches ErrIncompletePricing.
func (e *IncompletePricingError) Is(target error) bool { return target == ErrIncompletePricing }
