/*
Package ledger provides the coin ledger engine.

PURPOSE:
  This package contains the core types and algorithms for the coin
  economy: expiring grants ("ledger entries"), balance calculation,
  and the FIFO lock/unlock/consume allocator that reserves coins
  against bookings and exchanges.

KEY CONCEPTS IN THIS FILE (types.go):
  - LedgerEntry: One batch of coins issued to a user with its own expiry
  - TransactionLogEntry: Append-only record of every balance change
  - LockDelta: Per-entry amount moved by a lock (the rollback unit)

DESIGN PRINCIPLES:
  1. Grants are independent: each entry tracks its own current/locked
     amounts and expiry; balance is the sum over active entries.
  2. Entries are never deleted: expiry is a status transition, and
     even that is advisory - readers filter by expiresAt themselves.
  3. The Allocator is the ONLY writer of amountCurrent/amountLocked.
  4. Every balance-affecting event leaves a transaction log row with
     the resulting balance.

USAGE:
  entry := ledger.LedgerEntry{
      UserID:        "member-123",
      AmountInitial: 100,
      AmountCurrent: 100,
      SourceType:    ledger.SourcePurchase,
      ExpiresAt:     time.Now().AddDate(0, 0, 90),
  }

SEE ALSO:
  - allocator.go: FIFO lock/unlock/consume across entries
  - balance.go: Spendable balance derivation
  - store.go: Persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type EntryID string
type BookingID string

// =============================================================================
// LEDGER ENTRY - One coin grant with independent expiry
// =============================================================================

type EntryStatus string

const (
	EntryActive  EntryStatus = "active"
	EntryExpired EntryStatus = "expired"
	EntryVoid    EntryStatus = "void"
)

// SourceType identifies why a grant was issued.
type SourceType string

const (
	SourcePurchase    SourceType = "purchase"
	SourceBonus       SourceType = "bonus"
	SourceAdminAdjust SourceType = "admin_adjust"
	SourceCheckIn     SourceType = "checkin_reward"
	SourceMigration   SourceType = "migration"
)

// LedgerEntry is one batch of coins issued to a user.
//
// INVARIANT (enforced by the Allocator, checked by tests):
//
//	AmountCurrent >= 0 && AmountLocked >= 0 &&
//	AmountCurrent + AmountLocked <= AmountInitial
//
// AmountInitial is immutable after creation. AmountCurrent and
// AmountLocked are mutated only by the Allocator, always through a
// compare-and-swap guarded store update.
type LedgerEntry struct {
	ID            EntryID
	UserID        UserID
	AmountInitial int64 // grant size, immutable
	AmountCurrent int64 // spendable remainder
	AmountLocked  int64 // reserved against pending bookings/exchanges
	ExpiresAt     time.Time
	Status        EntryStatus
	SourceType    SourceType
	GrantedAt     time.Time

	// CashPaid is the money paid for purchase grants (zero otherwise).
	// Kept on the entry so refund tooling can trace coin cost basis.
	CashPaid decimal.Decimal
}

// Spendable reports whether the entry can contribute to available
// balance at the given instant. Expiry is evaluated here, lazily -
// an entry whose Status was never flipped to expired is still
// excluded once its ExpiresAt has passed.
func (e LedgerEntry) Spendable(asOf time.Time) bool {
	return e.Status == EntryActive && e.ExpiresAt.After(asOf)
}

// Unlockable reports whether the entry holds locked coins that a
// reversal (unlock) may return. Expired entries stay unlockable so a
// cancellation that races the expiry boundary still restores coins to
// the entry they came from.
func (e LedgerEntry) Unlockable() bool {
	return e.Status != EntryVoid && e.AmountLocked > 0
}

// =============================================================================
// LOCK DELTA - Per-entry movement, the unit of rollback
// =============================================================================

// LockDelta records how much a single lock operation moved on a single
// entry. Callers MUST retain the deltas from a successful lock: on any
// downstream failure they invoke Allocator.Rollback with them to
// restore the pre-lock distribution before surfacing the error.
type LockDelta struct {
	EntryID EntryID
	Amount  int64
}

// =============================================================================
// TRANSACTION LOG - Append-only audit of balance changes
// =============================================================================

type TransactionType string

const (
	TxGrant   TransactionType = "grant"   // coins issued
	TxLock    TransactionType = "lock"    // reserved against a booking/exchange
	TxUnlock  TransactionType = "unlock"  // reservation released (refund)
	TxConsume TransactionType = "consume" // locked spend finalized
	TxForfeit TransactionType = "forfeit" // locked coins lost (late cancel, no-show)
	TxExpire  TransactionType = "expire"  // unspent remainder expired
	TxAdjust  TransactionType = "adjust"  // manual admin correction
)

// TransactionLogEntry is one append-only audit row. Amount is signed
// from the member's point of view (grants positive, locks/spends
// negative). BalanceAfter snapshots the spendable balance right after
// the event so history is readable without replay.
type TransactionLogEntry struct {
	ID           string
	UserID       UserID
	Amount       int64
	BalanceAfter int64
	Type         TransactionType
	BookingID    BookingID // optional
	EntryID      EntryID   // optional
	Reason       string
	ExecutedBy   string // actor: member, admin, or "system"
	CreatedAt    time.Time
}
