/*
errors.go - Centralized error types for the coin engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages (booking, exchange, recurring) wrap these with
  additional context.

ERROR CATEGORIES:
  1. Business rule errors - InsufficientBalance (not a fault)
  2. Concurrency errors - ConcurrentModification (transient, retryable),
     UniquenessConflict (double-booking, surfaced as "slot taken")
  3. Infrastructure errors - DependencyUnavailable, AuditWriteFailure

USAGE:
  if errors.Is(err, ledger.ErrInsufficientBalance) {
      // show actionable "not enough coins" message
  }
  if ledger.IsRetryable(err) {
      // ask the caller to retry the whole operation
  }

SEE ALSO:
  - allocator.go: Produces InsufficientBalance / ConcurrentModification
  - booking/orchestrator.go: Produces UniquenessConflict, wraps the rest
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientBalance is returned when a lock request exceeds the
	// user's spendable balance. A business outcome, not a fault: no
	// mutation has been applied when this is returned.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConcurrentModification is returned when the per-entry
	// compare-and-swap detects a concurrent writer. Transient: the
	// caller may retry the whole operation once.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrUniquenessConflict is returned when a reservation collides on
	// (provider, timestamp). The storage constraint behind this error is
	// the sole authority on double-booking; pre-checks are advisory.
	ErrUniquenessConflict = errors.New("slot already taken")

	// ErrEntryNotFound is returned when a referenced ledger entry
	// doesn't exist.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrValidation is returned for bad input shape or range, rejected
	// before any mutation.
	ErrValidation = errors.New("validation failed")

	// ErrDependencyUnavailable is returned for storage I/O failures.
	// Triggers saga rollback of already-applied steps.
	ErrDependencyUnavailable = errors.New("storage dependency unavailable")

	// ErrAuditWriteFailure is returned when the transaction log write
	// fails. Fatal for the attempt: an un-audited balance change is
	// unacceptable, so the caller rolls back the financial mutation.
	ErrAuditWriteFailure = errors.New("audit log write failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	UserID    UserID
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %d, requested %d",
		e.UserID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// ConflictError provides details about a CAS failure on an entry.
type ConflictError struct {
	EntryID EntryID
	Op      string // "lock", "unlock", "consume"
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrent modification on entry %s during %s", e.EntryID, e.Op)
}

func (e *ConflictError) Unwrap() error {
	return ErrConcurrentModification
}

// ValidationError describes a rejected input with a stable code.
type ValidationError struct {
	Code    string // e.g. "amount_not_positive", "outside_business_hours"
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the whole operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is an actionable business
// outcome rather than a system fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrUniquenessConflict) ||
		errors.Is(err, ErrValidation)
}
