package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgefit/coin-engine/ledger"
	"github.com/forgefit/coin-engine/store/memory"
)

// =============================================================================
// LAZY EXPIRY - Balance never depends on the sweep
// =============================================================================

func TestBalance_ExpiredEntryExcludedWithoutSweep(t *testing.T) {
	// GIVEN: An entry past its ExpiresAt whose status still says active
	// WHEN: Reading the available balance
	// THEN: Its coins are excluded at read time

	store := memory.New()
	ctx := context.Background()
	calc := ledger.NewBalanceCalculator(store)

	seedEntry(t, store, "stale", "member-1", 100, -1)
	seedEntry(t, store, "live", "member-1", 40, 10)

	balance, err := calc.AvailableBalance(ctx, "member-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)
}

func TestBalance_Summary_Components(t *testing.T) {
	// GIVEN: A live grant with some coins locked and an expired one with
	//        a leftover lock
	// WHEN: Summarizing
	// THEN: Available counts only spendable current amounts; Locked
	//       counts every non-void lock, expired entries included

	store := memory.New()
	ctx := context.Background()
	calc := ledger.NewBalanceCalculator(store)

	require.NoError(t, store.CreateEntry(ctx, ledger.LedgerEntry{
		ID: "live", UserID: "member-1", AmountInitial: 100, AmountCurrent: 70, AmountLocked: 30,
		ExpiresAt: testNow.AddDate(0, 0, 10), Status: ledger.EntryActive, GrantedAt: testNow.AddDate(0, 0, -5),
	}))
	require.NoError(t, store.CreateEntry(ctx, ledger.LedgerEntry{
		ID: "stale", UserID: "member-1", AmountInitial: 50, AmountCurrent: 20, AmountLocked: 10,
		ExpiresAt: testNow.AddDate(0, 0, -1), Status: ledger.EntryActive, GrantedAt: testNow.AddDate(0, 0, -40),
	}))

	sum, err := calc.Summary(ctx, "member-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(70), sum.Available)
	assert.Equal(t, int64(40), sum.Locked, "locks survive expiry until resolved")
	assert.Equal(t, int64(110), sum.Total)
	assert.Equal(t, testNow.AddDate(0, 0, 10), sum.NextExpiry)
	assert.Equal(t, int64(70), sum.ExpiringAmount)
}

func TestBalance_Summary_VoidEntriesInvisible(t *testing.T) {
	// GIVEN: A voided entry (unaudited grant compensation)
	// WHEN: Summarizing
	// THEN: It contributes nothing, locked included

	store := memory.New()
	ctx := context.Background()
	calc := ledger.NewBalanceCalculator(store)

	require.NoError(t, store.CreateEntry(ctx, ledger.LedgerEntry{
		ID: "void", UserID: "member-1", AmountInitial: 100, AmountCurrent: 100, AmountLocked: 20,
		ExpiresAt: testNow.AddDate(0, 0, 10), Status: ledger.EntryVoid, GrantedAt: testNow,
	}))

	sum, err := calc.Summary(ctx, "member-1", testNow)
	require.NoError(t, err)
	assert.Zero(t, sum.Available)
	assert.Zero(t, sum.Locked)
	assert.Zero(t, sum.Total)
}

// =============================================================================
// FIFO ORDERING HELPERS
// =============================================================================

func TestSpendableEntries_Ordering(t *testing.T) {
	// GIVEN: Entries in scrambled order with mixed expiries and grant
	//        dates
	// WHEN: Filtering spendable entries
	// THEN: Soonest expiry first, ties broken by oldest grant

	entries := []ledger.LedgerEntry{
		{ID: "late", AmountCurrent: 10, ExpiresAt: testNow.AddDate(0, 0, 20), Status: ledger.EntryActive, GrantedAt: testNow},
		{ID: "soon-new", AmountCurrent: 10, ExpiresAt: testNow.AddDate(0, 0, 5), Status: ledger.EntryActive, GrantedAt: testNow},
		{ID: "soon-old", AmountCurrent: 10, ExpiresAt: testNow.AddDate(0, 0, 5), Status: ledger.EntryActive, GrantedAt: testNow.AddDate(0, 0, -30)},
		{ID: "empty", AmountCurrent: 0, ExpiresAt: testNow.AddDate(0, 0, 1), Status: ledger.EntryActive, GrantedAt: testNow},
		{ID: "gone", AmountCurrent: 10, ExpiresAt: testNow.AddDate(0, 0, -1), Status: ledger.EntryActive, GrantedAt: testNow},
	}

	got := ledger.SpendableEntries(entries, testNow)
	require.Len(t, got, 3)
	assert.Equal(t, ledger.EntryID("soon-old"), got[0].ID)
	assert.Equal(t, ledger.EntryID("soon-new"), got[1].ID)
	assert.Equal(t, ledger.EntryID("late"), got[2].ID)
}
