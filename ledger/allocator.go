/*
allocator.go - FIFO lock/unlock/consume across ledger entries

PURPOSE:
  Moves coin amounts between "available" and "locked" states across
  possibly many ledger entries. This is the ONLY code that mutates
  AmountCurrent/AmountLocked.

THE THREE OPERATIONS:
  Lock:    available -> locked  (coins reserved for a pending spend)
  Unlock:  locked -> available  (reservation released, e.g. refund)
  Consume: locked -> gone       (spend finalized, or forfeited)

FIFO ALLOCATION:
  Entries are walked soonest-to-expire first (then oldest grant first),
  moving min(entry amount, remaining) per entry. Spending coins that
  expire first minimizes what the member later forfeits.

OPTIMISTIC CONCURRENCY:
  Each per-entry update is a compare-and-swap on the amounts read
  before the walk. A CAS failure means a concurrent writer touched the
  entry; the whole attempt fails with ErrConcurrentModification and
  the caller retries the entire operation - never reapplies part of it.

ROLLBACK CONTRACT:
  Lock returns the per-entry deltas it applied, even on failure. The
  caller MUST retain them and, on any downstream failure (booking
  insert, reservation conflict, audit write), call Rollback(deltas)
  to restore the pre-lock distribution before surfacing the error.
  Unlock and Consume self-compensate: they reverse their own partial
  work before returning an error, so callers see all-or-nothing.

SEE ALSO:
  - balance.go: SpendableEntries / LockedEntries ordering
  - service.go: Audit-logged wrappers for direct API use
  - booking/orchestrator.go: Saga caller holding the rollback stack
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// rollbackAttempts bounds the CAS retry loop used when force-applying
// compensations. Compensation must not give up on first conflict.
const rollbackAttempts = 5

// =============================================================================
// ALLOCATOR
// =============================================================================

// Allocator performs FIFO amount movement across a user's entries.
type Allocator struct {
	Entries EntryStore
	Now     Clock
}

func NewAllocator(entries EntryStore) *Allocator {
	return &Allocator{Entries: entries, Now: SystemClock}
}

// Lock reserves amount coins against a pending booking or exchange.
//
// Returns the deltas actually applied. On ErrConcurrentModification or
// a storage error the returned deltas are the movements already made;
// the caller must Rollback them. On ErrInsufficientBalance no mutation
// has been applied and the deltas are nil.
func (a *Allocator) Lock(ctx context.Context, userID UserID, amount int64) ([]LockDelta, error) {
	if amount <= 0 {
		return nil, &ValidationError{Code: "amount_not_positive", Message: fmt.Sprintf("lock amount must be positive, got %d", amount)}
	}

	all, err := a.Entries.EntriesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading entries: %v", ErrDependencyUnavailable, err)
	}

	now := a.Now()
	candidates := SpendableEntries(all, now)

	available := SumAvailable(candidates, now)
	if available < amount {
		return nil, &InsufficientBalanceError{UserID: userID, Available: available, Requested: amount}
	}

	var applied []LockDelta
	remaining := amount
	for _, e := range candidates {
		if remaining == 0 {
			break
		}
		move := min64(e.AmountCurrent, remaining)
		err := a.Entries.UpdateAmounts(ctx, e.ID,
			e.AmountCurrent, e.AmountLocked,
			e.AmountCurrent-move, e.AmountLocked+move)
		if err != nil {
			if errors.Is(err, ErrConcurrentModification) {
				return applied, &ConflictError{EntryID: e.ID, Op: "lock"}
			}
			return applied, fmt.Errorf("%w: locking entry %s: %v", ErrDependencyUnavailable, e.ID, err)
		}
		applied = append(applied, LockDelta{EntryID: e.ID, Amount: move})
		remaining -= move
	}

	return applied, nil
}

// Unlock reverses a prior lock: moves amount from locked back to
// available, same FIFO ordering. Used on refund-eligible cancellation.
// All-or-nothing: partial work is reversed before an error returns.
func (a *Allocator) Unlock(ctx context.Context, userID UserID, amount int64) error {
	return a.drainLocked(ctx, userID, amount, "unlock", true)
}

// Consume permanently removes amount from locked state - the spend is
// confirmed (booking completed, exchange fulfilled) or forfeited.
// Nothing returns to AmountCurrent. All-or-nothing like Unlock.
func (a *Allocator) Consume(ctx context.Context, userID UserID, amount int64) error {
	return a.drainLocked(ctx, userID, amount, "consume", false)
}

// drainLocked walks locked entries FIFO, reducing AmountLocked by
// amount. When restore is true the coins return to AmountCurrent
// (unlock); otherwise they are gone (consume).
func (a *Allocator) drainLocked(ctx context.Context, userID UserID, amount int64, op string, restore bool) error {
	if amount <= 0 {
		return &ValidationError{Code: "amount_not_positive", Message: fmt.Sprintf("%s amount must be positive, got %d", op, amount)}
	}

	all, err := a.Entries.EntriesByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: loading entries: %v", ErrDependencyUnavailable, err)
	}

	candidates := LockedEntries(all)
	var totalLocked int64
	for _, e := range candidates {
		totalLocked += e.AmountLocked
	}
	if totalLocked < amount {
		return &ValidationError{Code: "exceeds_locked",
			Message: fmt.Sprintf("%s of %d exceeds locked total %d for %s", op, amount, totalLocked, userID)}
	}

	var applied []LockDelta
	remaining := amount
	for _, e := range candidates {
		if remaining == 0 {
			break
		}
		move := min64(e.AmountLocked, remaining)
		newCurrent := e.AmountCurrent
		if restore {
			newCurrent += move
		}
		err := a.Entries.UpdateAmounts(ctx, e.ID,
			e.AmountCurrent, e.AmountLocked,
			newCurrent, e.AmountLocked-move)
		if err != nil {
			a.compensateDrain(ctx, applied, restore)
			if errors.Is(err, ErrConcurrentModification) {
				return &ConflictError{EntryID: e.ID, Op: op}
			}
			return fmt.Errorf("%w: %s on entry %s: %v", ErrDependencyUnavailable, op, e.ID, err)
		}
		applied = append(applied, LockDelta{EntryID: e.ID, Amount: move})
		remaining -= move
	}

	return nil
}

// compensateDrain reverses partial unlock/consume work so the caller
// observes all-or-nothing.
func (a *Allocator) compensateDrain(ctx context.Context, applied []LockDelta, restored bool) {
	for _, d := range applied {
		dCurrent := int64(0)
		if restored {
			dCurrent = -d.Amount
		}
		// Put the amount back into locked state.
		if err := a.forceMove(ctx, d.EntryID, dCurrent, d.Amount); err != nil {
			// Compensation exhausted its retries. Nothing more we can do
			// here; the integrity log is what surfaces it.
			logIntegrity("failed to compensate %s on entry %s: %v", opName(restored), d.EntryID, err)
		}
	}
}

// =============================================================================
// ROLLBACK - Inverse of an applied lock
// =============================================================================

// Rollback restores amountCurrent += moved, amountLocked -= moved for
// every delta of a previously applied (possibly partial) lock. Order
// does not matter. Each entry is force-applied with a bounded CAS
// retry loop: a compensation must not abort on the first concurrent
// writer. Returns the joined errors of entries that could not be
// restored.
func (a *Allocator) Rollback(ctx context.Context, deltas []LockDelta) error {
	var errs []error
	for _, d := range deltas {
		if err := a.forceMove(ctx, d.EntryID, d.Amount, -d.Amount); err != nil {
			errs = append(errs, fmt.Errorf("rollback entry %s: %w", d.EntryID, err))
		}
	}
	return errors.Join(errs...)
}

// forceMove applies (dCurrent, dLocked) to an entry with re-read and
// retry on CAS conflict.
func (a *Allocator) forceMove(ctx context.Context, id EntryID, dCurrent, dLocked int64) error {
	var lastErr error
	for attempt := 0; attempt < rollbackAttempts; attempt++ {
		e, err := a.Entries.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		err = a.Entries.UpdateAmounts(ctx, id,
			e.AmountCurrent, e.AmountLocked,
			e.AmountCurrent+dCurrent, e.AmountLocked+dLocked)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// logIntegrity flags states that require operator attention: a failed
// compensation means locked/current amounts may be skewed for one entry.
func logIntegrity(format string, args ...any) {
	log.Printf("[Ledger] INTEGRITY: "+format, args...)
}

func opName(restored bool) string {
	if restored {
		return "unlock"
	}
	return "consume"
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
