/*
errors.go - Centralized error types for the reward engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Services wrap these with context; the HTTP layer maps them to status
  codes with errors.Is.

ERROR CATEGORIES:
  1. Input errors - malformed quarter, year, amounts
  2. Lookup errors - tier, reward, customer, order not found
  3. State errors - mutation of a processed reward, nothing to settle
  4. Persistence errors - storage failures during a settlement step

SEE ALSO:
  - api/errors.go: HTTP status mapping
  - rewards/settlement.go: Per-customer CustomerError collection
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput is returned for missing or malformed request values.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidQuarter is returned when a quarter number is outside 1..4.
	ErrInvalidQuarter = fmt.Errorf("%w: quarter must be between 1 and 4", ErrInvalidInput)

	ErrTierNotFound     = errors.New("reward tier not found")
	ErrRewardNotFound   = errors.New("customer reward not found")
	ErrCustomerNotFound = errors.New("customer not found")
	ErrOrderNotFound    = errors.New("order not found")

	// ErrAlreadyProcessed is returned when a processed reward would be mutated.
	ErrAlreadyProcessed = errors.New("reward already processed")

	// ErrNothingToProcess is returned when a quarter has no pending rewards.
	ErrNothingToProcess = errors.New("no pending rewards to process")

	// ErrMissingActor is returned when settlement runs without an actor.
	ErrMissingActor = errors.New("actor is required")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// ErrTierInUse is returned when deleting a tier a processed reward references.
	ErrTierInUse = errors.New("reward tier is referenced by a processed reward")

	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	ErrOrderAlreadyPaid    = errors.New("order already paid")
	ErrDuplicate           = errors.New("duplicate record")

	// ErrPersistence marks a storage failure inside a settlement step.
	ErrPersistence = errors.New("persistence failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// CustomerError records one customer's failure inside a batch operation.
type CustomerError struct {
	CustomerID CustomerID
	Err        error
}

func (e *CustomerError) Error() string {
	return fmt.Sprintf("customer %s: %v", e.CustomerID, e.Err)
}

func (e *CustomerError) Unwrap() error {
	return e.Err
}

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTierNotFound) ||
		errors.Is(err, ErrRewardNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrOrderNotFound)
}

// IsClientError returns true if the error is due to invalid client input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrNothingToProcess) ||
		errors.Is(err, ErrInsufficientBalance)
}
