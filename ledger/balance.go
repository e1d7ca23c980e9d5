/*
balance.go - Spendable balance derivation

PURPOSE:
  Answers "how many coins can this member spend right now?" by summing
  AmountCurrent over active, non-expired entries.

KEY INSIGHT:
  Expiry is evaluated lazily at read time. Storage never pre-filters
  expired entries and no sweep is assumed to have run: an entry whose
  ExpiresAt has passed is excluded here even while its Status still
  says "active".

BALANCE COMPONENTS:
  Available: sum(AmountCurrent) over spendable entries - what can be
             locked for a new booking or exchange
  Locked:    sum(AmountLocked) - reserved against pending spends
  Total:     Available + Locked - what reporting views show

FIFO ORDERING:
  SpendableEntries returns entries ordered by ExpiresAt ascending then
  GrantedAt ascending. Spending soonest-to-expire first minimizes
  future forfeiture. The Allocator and the recurring batch's ledger
  mirror both consume in this order.

SEE ALSO:
  - allocator.go: Walks SpendableEntries to lock coins
  - recurring/mirror.go: Applies the same ordering in-memory
*/
package ledger

import (
	"context"
	"sort"
	"time"
)

// =============================================================================
// BALANCE CALCULATOR
// =============================================================================

// BalanceCalculator derives balances from the entry store.
type BalanceCalculator struct {
	Entries EntryStore
}

func NewBalanceCalculator(entries EntryStore) *BalanceCalculator {
	return &BalanceCalculator{Entries: entries}
}

// AvailableBalance returns the spendable coin balance at asOf.
// Never negative; locked amounts are excluded.
func (bc *BalanceCalculator) AvailableBalance(ctx context.Context, userID UserID, asOf time.Time) (int64, error) {
	entries, err := bc.Entries.EntriesByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return SumAvailable(entries, asOf), nil
}

// Summary returns the full balance breakdown for reporting views.
func (bc *BalanceCalculator) Summary(ctx context.Context, userID UserID, asOf time.Time) (BalanceSummary, error) {
	entries, err := bc.Entries.EntriesByUser(ctx, userID)
	if err != nil {
		return BalanceSummary{}, err
	}

	s := BalanceSummary{UserID: userID, AsOf: asOf}
	for _, e := range entries {
		if e.Status == EntryVoid {
			continue
		}
		// Locked coins stay visible even past expiry: they belong to an
		// in-flight booking whose cancellation may still return them.
		s.Locked += e.AmountLocked
		if e.Spendable(asOf) {
			s.Available += e.AmountCurrent
			if s.NextExpiry.IsZero() || e.ExpiresAt.Before(s.NextExpiry) {
				s.NextExpiry = e.ExpiresAt
				s.ExpiringAmount = e.AmountCurrent
			} else if e.ExpiresAt.Equal(s.NextExpiry) {
				s.ExpiringAmount += e.AmountCurrent
			}
		}
	}
	s.Total = s.Available + s.Locked
	return s, nil
}

// BalanceSummary is the user-facing balance breakdown.
type BalanceSummary struct {
	UserID         UserID
	AsOf           time.Time
	Available      int64 // spendable now
	Locked         int64 // reserved against pending spends
	Total          int64 // Available + Locked
	NextExpiry     time.Time // soonest expiry among spendable entries
	ExpiringAmount int64     // coins lost at NextExpiry if unspent
}

// =============================================================================
// PURE HELPERS - Shared with the allocator and the batch mirror
// =============================================================================

// SumAvailable sums AmountCurrent over spendable entries.
func SumAvailable(entries []LedgerEntry, asOf time.Time) int64 {
	var total int64
	for _, e := range entries {
		if e.Spendable(asOf) {
			total += e.AmountCurrent
		}
	}
	return total
}

// SpendableEntries filters to entries that can fund a lock at asOf and
// orders them FIFO: soonest expiry first, then oldest grant first.
func SpendableEntries(entries []LedgerEntry, asOf time.Time) []LedgerEntry {
	var out []LedgerEntry
	for _, e := range entries {
		if e.Spendable(asOf) && e.AmountCurrent > 0 {
			out = append(out, e)
		}
	}
	SortFIFO(out)
	return out
}

// LockedEntries filters to entries holding locked coins, same ordering.
// Used by unlock and consume.
func LockedEntries(entries []LedgerEntry) []LedgerEntry {
	var out []LedgerEntry
	for _, e := range entries {
		if e.Unlockable() {
			out = append(out, e)
		}
	}
	SortFIFO(out)
	return out
}

// SortFIFO orders entries by ExpiresAt ascending, GrantedAt ascending.
func SortFIFO(entries []LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].ExpiresAt.Equal(entries[j].ExpiresAt) {
			return entries[i].ExpiresAt.Before(entries[j].ExpiresAt)
		}
		return entries[i].GrantedAt.Before(entries[j].GrantedAt)
	})
}
