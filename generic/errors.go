/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every error returned by the engine, the stores and the request lifecycle
  belongs to exactly one class:

ERROR CLASSES:
  1. Validation - caller error, never retried (ErrValidation)
  2. Not found  - referenced employee or request is missing (ErrNotFound)
  3. Conflict   - concurrent modification detected, retry with fresh reads
                  (ErrConflict)
  4. Storage    - infrastructure failure; no partial write happened
                  (ErrStorage)

USAGE:
  Specific sentinels sit under a class so callers can match either level:

    if errors.Is(err, generic.ErrInsufficientBalance) { ... }
    if generic.IsClientError(err) { ... } // any validation failure

SEE ALSO:
  - ledger.go: Raises validation and conflict errors
  - api/handlers.go: Maps classes to HTTP statuses
*/
package generic

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("concurrent modification detected")
	ErrStorage    = errors.New("storage failure")

	// Validation details.
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnauthorized        = errors.New("actor not allowed")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrNoChargeableDays    = errors.New("period contains no working day")
	ErrInvalidPeriod       = errors.New("invalid period: end before start")
	ErrMissingField        = errors.New("missing mandatory field")

	errNoMajorator = errors.New("ledger has no majorator for overtime credits")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes input the caller must correct.
type ValidationError struct {
	Field   string
	Message string
	Err     error // optional specific sentinel
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

// Invalid builds a ValidationError tagged with a specific sentinel.
func Invalid(sentinel error, field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Err: sentinel}
}

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	EmployeeID EmployeeID
	Kind       BalanceKind
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	unit := e.Kind.Unit()
	return fmt.Sprintf("insufficient %s balance: available %s %s, requested %s %s",
		e.Kind, e.Available, unit, e.Requested, unit)
}

func (e *InsufficientBalanceError) Unwrap() []error {
	return []error{ErrValidation, ErrInsufficientBalance}
}

// NotFoundError names the missing resource.
type NotFoundError struct {
	Kind string // "employee", "request"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ConflictError reports a lost optimistic race on a row.
type ConflictError struct {
	Resource string
	ID       string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrent modification of %s %q", e.Resource, e.ID)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// StorageError wraps a driver failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// Storage wraps err as a StorageError unless it is nil or already classified.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsStorage returns true for infrastructure failures.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}
