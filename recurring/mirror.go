/*
mirror.go - In-memory ledger working set for one batch run

PURPOSE:
  The batch may expand many templates sharing the same member. Balance
  must reflect earlier iterations within the same run without
  re-querying storage per date - the run can touch hundreds of
  (template, date) combinations and N+1 queries are not acceptable.

DESIGN:
  An explicit, passed-by-reference working set scoped to one run - not
  a package-level singleton - so test runs are isolated and parallel
  batch simulations are possible. Entries are loaded once per run,
  filtered to spendable and ordered FIFO exactly like the Allocator
  orders them. Lock mutates the mirror AND persists each entry update
  through the same CAS guard, using the mirrored amounts as the
  expected values.

CONFLICTS:
  A CAS failure means a live request raced the batch on this entry.
  The mirror reverses the partial lock, reloads that member's entries
  from storage, and reports the conflict; the engine records the
  attempt as failed and moves on.

SEE ALSO:
  - ledger/balance.go: The shared FIFO ordering helpers
  - engine.go: The only caller
*/
package recurring

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/forgefit/coin-engine/ledger"
)

// Mirror is the batch's in-memory view of affected members' spendable
// entries. Not safe for concurrent use; the batch is single-threaded.
type Mirror struct {
	asOf    time.Time
	entries map[ledger.UserID][]ledger.LedgerEntry
	store   ledger.EntryStore
	alloc   *ledger.Allocator
}

// NewMirror builds an empty mirror over the given store. asOf fixes
// the expiry horizon for the whole run.
func NewMirror(store ledger.EntryStore, asOf time.Time) *Mirror {
	return &Mirror{
		asOf:    asOf,
		entries: make(map[ledger.UserID][]ledger.LedgerEntry),
		store:   store,
		alloc:   ledger.NewAllocator(store),
	}
}

// LoadUsers fetches and caches entries for every given member. Called
// once per run during snapshot precomputation.
func (m *Mirror) LoadUsers(ctx context.Context, userIDs []ledger.UserID) error {
	for _, id := range userIDs {
		if _, ok := m.entries[id]; ok {
			continue
		}
		if err := m.reload(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mirror) reload(ctx context.Context, userID ledger.UserID) error {
	all, err := m.store.EntriesByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading ledger mirror for %s: %w", userID, err)
	}
	m.entries[userID] = ledger.SpendableEntries(all, m.asOf)
	return nil
}

// Available returns the member's spendable balance as the mirror sees
// it, including the effect of locks applied earlier in this run.
func (m *Mirror) Available(userID ledger.UserID) int64 {
	return ledger.SumAvailable(m.entries[userID], m.asOf)
}

// Lock moves amount from current to locked for the member, walking the
// mirrored entries FIFO and persisting each movement with the CAS
// guard. On success the mirror reflects the movement. On any failure
// the partial lock is reversed in storage and the mirror is reloaded.
func (m *Mirror) Lock(ctx context.Context, userID ledger.UserID, amount int64) ([]ledger.LockDelta, error) {
	if m.Available(userID) < amount {
		return nil, &ledger.InsufficientBalanceError{
			UserID: userID, Available: m.Available(userID), Requested: amount}
	}

	list := m.entries[userID]
	var applied []ledger.LockDelta
	remaining := amount
	for i := range list {
		if remaining == 0 {
			break
		}
		e := &list[i]
		if e.AmountCurrent == 0 {
			continue
		}
		move := e.AmountCurrent
		if move > remaining {
			move = remaining
		}
		err := m.store.UpdateAmounts(ctx, e.ID,
			e.AmountCurrent, e.AmountLocked,
			e.AmountCurrent-move, e.AmountLocked+move)
		if err != nil {
			m.recover(ctx, userID, applied)
			if errors.Is(err, ledger.ErrConcurrentModification) {
				return nil, fmt.Errorf("batch lock for %s: %w", userID, err)
			}
			return nil, fmt.Errorf("batch lock for %s: %w: %v", userID, ledger.ErrDependencyUnavailable, err)
		}
		e.AmountCurrent -= move
		e.AmountLocked += move
		applied = append(applied, ledger.LockDelta{EntryID: e.ID, Amount: move})
		remaining -= move
	}

	return applied, nil
}

// Rollback reverses a lock applied by this mirror (used when a later
// step of the same iteration fails) and refreshes the member's view.
func (m *Mirror) Rollback(ctx context.Context, userID ledger.UserID, deltas []ledger.LockDelta) {
	m.recover(ctx, userID, deltas)
}

func (m *Mirror) recover(ctx context.Context, userID ledger.UserID, applied []ledger.LockDelta) {
	if len(applied) > 0 {
		if err := m.alloc.Rollback(ctx, applied); err != nil {
			// Surfaced loudly; the next reload still shows the truth.
			log.Printf("[Recurring] mirror rollback for %s failed: %v", userID, err)
		}
	}
	if err := m.reload(ctx, userID); err != nil {
		// Drop the cached view rather than serve a stale one.
		delete(m.entries, userID)
	}
}
