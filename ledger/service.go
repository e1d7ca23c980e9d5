/*
service.go - Audit-logged coin operations for direct callers

PURPOSE:
  Wraps the Allocator with transaction-log writes for callers that
  operate on coins directly (admin tooling, the exchange service, the
  raw coin API). The booking orchestrator does NOT use this wrapper -
  it holds its own compensation stack and writes its own log rows as
  saga steps.

THE AUDIT RULE:
  Financial state must never be mutated without an audit trail. If the
  log write fails after a successful movement, the movement is rolled
  back and ErrAuditWriteFailure is surfaced - the operation never
  "half happened".

RETRY:
  Each operation retries once on ErrConcurrentModification, after
  fully reversing the first attempt. Callers seeing the error a second
  time surface "please retry" to the user.

SEE ALSO:
  - allocator.go: The underlying movement
  - grants.go: Issuing entries (the other audit-logged writer)
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service exposes lock/unlock/consume with audit logging and balance
// reads. One instance is shared by the API and the exchange service.
type Service struct {
	Allocator *Allocator
	Balance   *BalanceCalculator
	Log       TransactionLog
	Now       Clock
}

func NewService(entries EntryStore, txlog TransactionLog) *Service {
	return &Service{
		Allocator: NewAllocator(entries),
		Balance:   NewBalanceCalculator(entries),
		Log:       txlog,
		Now:       SystemClock,
	}
}

// LockResult reports what a lock moved, for callers that must be able
// to reverse it later.
type LockResult struct {
	Deltas []LockDelta
	Total  int64
}

// LockCoins reserves coins and writes the audit row. Retries the whole
// attempt once on concurrent modification.
func (s *Service) LockCoins(ctx context.Context, userID UserID, amount int64, bookingID BookingID, executedBy string) (LockResult, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		deltas, err := s.Allocator.Lock(ctx, userID, amount)
		if err != nil {
			// Reverse whatever the failed attempt applied.
			if len(deltas) > 0 {
				if rbErr := s.Allocator.Rollback(ctx, deltas); rbErr != nil {
					return LockResult{}, fmt.Errorf("lock failed (%w) and rollback failed: %v", err, rbErr)
				}
			}
			if IsRetryable(err) {
				lastErr = err
				continue
			}
			return LockResult{}, err
		}

		if err := s.logMovement(ctx, userID, -amount, TxLock, bookingID, executedBy, "coins locked"); err != nil {
			if rbErr := s.Allocator.Rollback(ctx, deltas); rbErr != nil {
				return LockResult{}, fmt.Errorf("%w: and rollback failed: %v", ErrAuditWriteFailure, rbErr)
			}
			return LockResult{}, err
		}
		return LockResult{Deltas: deltas, Total: amount}, nil
	}
	return LockResult{}, lastErr
}

// UnlockCoins releases previously locked coins back to spendable.
func (s *Service) UnlockCoins(ctx context.Context, userID UserID, amount int64, bookingID BookingID, executedBy string) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := s.Allocator.Unlock(ctx, userID, amount); err != nil {
			if IsRetryable(err) {
				lastErr = err
				continue
			}
			return err
		}
		if err := s.logMovement(ctx, userID, amount, TxUnlock, bookingID, executedBy, "coins unlocked"); err != nil {
			// Undo the unlock so the books stay consistent with the log.
			if _, relockErr := s.Allocator.Lock(ctx, userID, amount); relockErr != nil {
				return fmt.Errorf("%w: and re-lock failed: %v", ErrAuditWriteFailure, relockErr)
			}
			return err
		}
		return nil
	}
	return lastErr
}

// ConsumeCoins finalizes a locked spend. forfeit selects the log type
// (TxForfeit instead of TxConsume) for late cancellations and no-shows.
func (s *Service) ConsumeCoins(ctx context.Context, userID UserID, amount int64, bookingID BookingID, executedBy string, forfeit bool) error {
	txType := TxConsume
	reason := "coins consumed"
	if forfeit {
		txType = TxForfeit
		reason = "coins forfeited"
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := s.Allocator.Consume(ctx, userID, amount); err != nil {
			if IsRetryable(err) {
				lastErr = err
				continue
			}
			return err
		}
		if err := s.logMovement(ctx, userID, -amount, txType, bookingID, executedBy, reason); err != nil {
			// A consume cannot be replayed from the entries alone (the
			// amounts are gone), so surface loudly instead of guessing.
			logIntegrity("consume of %d for %s is unaudited: %v", amount, userID, err)
			return err
		}
		return nil
	}
	return lastErr
}

// AvailableBalance is a convenience passthrough for API callers.
func (s *Service) AvailableBalance(ctx context.Context, userID UserID) (int64, error) {
	return s.Balance.AvailableBalance(ctx, userID, s.Now())
}

// logMovement appends the audit row with the post-movement balance.
func (s *Service) logMovement(ctx context.Context, userID UserID, amount int64, txType TransactionType, bookingID BookingID, executedBy, reason string) error {
	balanceAfter, err := s.Balance.AvailableBalance(ctx, userID, s.Now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuditWriteFailure, err)
	}
	entry := TransactionLogEntry{
		ID:           uuid.NewString(),
		UserID:       userID,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Type:         txType,
		BookingID:    bookingID,
		Reason:       reason,
		ExecutedBy:   executedBy,
		CreatedAt:    s.Now(),
	}
	if err := s.Log.Append(ctx, entry); err != nil {
		return fmt.Errorf("%w: %v", ErrAuditWriteFailure, err)
	}
	return nil
}

// History returns a user's transaction log, newest first.
func (s *Service) History(ctx context.Context, userID UserID, limit int) ([]TransactionLogEntry, error) {
	return s.Log.ListByUser(ctx, userID, limit)
}
