/*
errors.go - Centralized error taxonomy for the engine

PURPOSE:
  All error categories in one place. Every operation either fully
  commits or fully aborts with exactly one of these; partial writes are
  a defect.

ERROR CATEGORIES:
  1. Validation  - bad input shape/range, caller's fault (HTTP 400)
  2. NotFound    - referenced entity absent (HTTP 404)
  3. Inactive    - entity exists but is not usable (HTTP 403)
  4. Conflict    - state-machine violation or lost race (HTTP 409)
  5. Persistence - transient store failure, retryable (HTTP 500)

NOT ERRORS:
  - Idempotent replay of CreateTransaction returns the prior record as
    a success.
  - A settlement batch matching zero transactions returns
    {Created:false, Count:0} as a success.

USAGE:
  if errors.Is(err, commission.ErrConflict) { ... }
  var nf *commission.NotFoundError
  if errors.As(err, &nf) { ... }

SEE ALSO:
  - api/handlers.go: Maps this taxonomy to HTTP status codes
  - store/sqlite: Translates constraint violations into this taxonomy
*/
package commission

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation marks bad input shape or range.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a missing referenced entity.
	ErrNotFound = errors.New("not found")

	// ErrInactiveResource marks an entity that exists but cannot be
	// used (suspended vendor, deactivated mechanic QR).
	ErrInactiveResource = errors.New("resource inactive")

	// ErrConflict marks a state-machine violation or a lost race:
	// settlement already paid, order already consumed, transaction
	// claimed by a concurrent batch.
	ErrConflict = errors.New("conflict")

	// ErrPersistence marks an underlying store failure. Transient;
	// callers may retry (with the same idempotency key for writes).
	ErrPersistence = errors.New("persistence failure")

	// ErrInvalidPeriod is returned when a window ends before it starts.
	ErrInvalidPeriod = fmt.Errorf("%w: period end before start", ErrValidation)

	// ErrDuplicateIdempotencyKey is the store-level signal that a
	// (vendor, idempotency key) pair already exists. The ledger turns
	// it into an idempotent replay, so callers normally never see it.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrForbidden marks a role check failure (HTTP 403). The identity
	// itself is trusted; only the role is enforced here.
	ErrForbidden = errors.New("forbidden")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string // "vendor", "mechanic", "transaction", "settlement", "order"
	Ref  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Ref)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InactiveResourceError names an entity that exists but is disabled.
type InactiveResourceError struct {
	Kind string
	Ref  string
}

func (e *InactiveResourceError) Error() string {
	return fmt.Sprintf("%s inactive: %s", e.Kind, e.Ref)
}

func (e *InactiveResourceError) Unwrap() error { return ErrInactiveResource }

// ConflictError describes which transition was refused.
type ConflictError struct {
	Op     string // "mark-paid", "consume-order", "create-settlement"
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ForbiddenError reports a role check failure.
type ForbiddenError struct {
	Role Role
	Op   string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s: role %s not permitted", e.Op, e.Role)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// PersistenceError wraps a store failure with the failing operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the underlying driver error so
// errors.Is/As can match either.
func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is the caller's fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInactiveResource) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrConflict)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict returns true for state-machine violations and lost races.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsRetryable returns true if the operation might succeed on retry.
// Retried writes must reuse the original idempotency key.
func IsRetryable(err error) bool { return errors.Is(err, ErrPersistence) }
