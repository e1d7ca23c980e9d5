/*
store.go - Persistence interfaces for ledger entries and the transaction log

PURPOSE:
  Defines the interface between the ledger engine and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory
  storage.

KEY INTERFACES:
  EntryStore:     Ledger entry persistence with CAS-guarded updates
  TransactionLog: Append-only audit log

OPTIMISTIC CONCURRENCY:
  UpdateAmounts is a conditional write: it succeeds only if the stored
  amounts still equal the values the caller read. This "versioned
  value" contract is what makes two concurrent lock attempts against
  the same entry safe - one of them observes stale amounts and gets
  ErrConcurrentModification instead of silently losing the other's
  update. The same logic targets any storage engine; in SQL it is a
  single UPDATE ... WHERE amount_current = ? AND amount_locked = ?.

APPEND-ONLY CONTRACT:
  TransactionLog has Append and reads. No Update, No Delete. Ever.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite (WAL mode)
  - store/memory: In-memory for testing and dev mode

SEE ALSO:
  - allocator.go: The only caller of UpdateAmounts
  - store/sqlite/sqlite.go: Concrete implementation
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// ENTRY STORE - Ledger entry persistence
// =============================================================================

// EntryStore persists ledger entries. Entries are created once and
// never deleted; amount mutation goes through UpdateAmounts only.
type EntryStore interface {
	// CreateEntry persists a new grant.
	CreateEntry(ctx context.Context, entry LedgerEntry) error

	// GetEntry returns one entry. ErrEntryNotFound if missing.
	GetEntry(ctx context.Context, id EntryID) (LedgerEntry, error)

	// EntriesByUser returns ALL of a user's entries, in no guaranteed
	// order. Callers filter and sort; storage never pre-filters expiry.
	EntriesByUser(ctx context.Context, userID UserID) ([]LedgerEntry, error)

	// UpdateAmounts conditionally writes new current/locked amounts.
	// The write succeeds only if the stored amounts still equal
	// expectCurrent/expectLocked (the values the caller read).
	// Returns ErrConcurrentModification when the guard fails.
	UpdateAmounts(ctx context.Context, id EntryID, expectCurrent, expectLocked, newCurrent, newLocked int64) error

	// SetStatus transitions an entry's status (active -> expired/void).
	SetStatus(ctx context.Context, id EntryID, status EntryStatus) error

	// ExpirableEntries returns active entries whose ExpiresAt is at or
	// before asOf. Used by the expiry sweep only - balance reads never
	// depend on this.
	ExpirableEntries(ctx context.Context, asOf time.Time) ([]LedgerEntry, error)
}

// =============================================================================
// TRANSACTION LOG - Append-only audit
// =============================================================================

// TransactionLog stores the audit trail. Append-only: no Update, no
// Delete, corrections are new rows.
type TransactionLog interface {
	Append(ctx context.Context, entry TransactionLogEntry) error

	// ListByUser returns a user's transactions, newest first, up to
	// limit (0 = no limit).
	ListByUser(ctx context.Context, userID UserID, limit int) ([]TransactionLogEntry, error)

	// ListByBooking returns transactions tied to one booking.
	ListByBooking(ctx context.Context, bookingID BookingID) ([]TransactionLogEntry, error)
}

// =============================================================================
// CLOCK - Injectable time source
// =============================================================================

// Clock supplies the current time. Production uses time.Now; tests
// pin a fixed instant to make expiry boundaries deterministic.
type Clock func() time.Time

// SystemClock is the production clock.
func SystemClock() time.Time { return time.Now().UTC() }
