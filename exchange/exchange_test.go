package exchange_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgefit/coin-engine/booking"
	"github.com/forgefit/coin-engine/exchange"
	"github.com/forgefit/coin-engine/ledger"
	"github.com/forgefit/coin-engine/notify"
	"github.com/forgefit/coin-engine/store/memory"
)

// =============================================================================
// TEST FIXTURE
// =============================================================================

var testNow = time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

var (
	memberActor = booking.Actor{ID: "member-1", Role: "member"}
	adminActor  = booking.Actor{ID: "admin-1", Role: "admin"}
)

func newService(t *testing.T) (*exchange.Service, *memory.Memory) {
	t.Helper()
	store := memory.New()

	svc := ledger.NewService(store, store)
	svc.Now = fixedClock
	svc.Allocator.Now = fixedClock

	s := exchange.NewService(store, svc, notify.LogDispatcher{})
	s.Now = fixedClock

	store.PutItem(exchange.Item{
		ID: "towel", Name: "Gym towel", CoinCost: 30,
		CashValue: decimal.NewFromFloat(7.50), Stock: 5, Active: true,
	})
	return s, store
}

func grantCoins(t *testing.T, store *memory.Memory, user string, amount int64) {
	t.Helper()
	err := store.CreateEntry(context.Background(), ledger.LedgerEntry{
		ID:            ledger.EntryID("grant-" + user),
		UserID:        ledger.UserID(user),
		AmountInitial: amount,
		AmountCurrent: amount,
		ExpiresAt:     testNow.AddDate(0, 0, 90),
		Status:        ledger.EntryActive,
		GrantedAt:     testNow.AddDate(0, 0, -1),
	})
	require.NoError(t, err)
}

func balanceOf(t *testing.T, store *memory.Memory, user string) (available, locked int64) {
	t.Helper()
	sum, err := ledger.NewBalanceCalculator(store).Summary(context.Background(), ledger.UserID(user), testNow)
	require.NoError(t, err)
	return sum.Available, sum.Locked
}

// =============================================================================
// REQUEST LIFECYCLE
// =============================================================================

func TestExchange_CreateRequest_LocksCoins(t *testing.T) {
	// GIVEN: A member with 100 coins and a 30-coin item in stock
	// WHEN: Requesting the item
	// THEN: A pending request holding the price, 30 coins locked, and a
	//       lock audit row referencing the request

	s, store := newService(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)

	req, err := s.CreateRequest(ctx, "member-1", "towel", memberActor)
	require.NoError(t, err)
	assert.Equal(t, exchange.RequestPending, req.Status)
	assert.Equal(t, int64(30), req.CoinCost)

	available, locked := balanceOf(t, store, "member-1")
	assert.Equal(t, int64(70), available)
	assert.Equal(t, int64(30), locked)

	txs, err := store.ListByBooking(ctx, ledger.BookingID(req.ID))
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TxLock, txs[0].Type)
}

func TestExchange_CreateRequest_PriceFixedAtRequestTime(t *testing.T) {
	// GIVEN: A pending request made at 30 coins
	// WHEN: The item's price changes to 60 before fulfillment
	// THEN: Fulfill settles the original 30

	s, store := newService(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)

	req, err := s.CreateRequest(ctx, "member-1", "towel", memberActor)
	require.NoError(t, err)

	store.PutItem(exchange.Item{
		ID: "towel", Name: "Gym towel", CoinCost: 60,
		CashValue: decimal.NewFromFloat(7.50), Stock: 5, Active: true,
	})

	require.NoError(t, s.Fulfill(ctx, req.ID, adminActor))

	available, locked := balanceOf(t, store, "member-1")
	assert.Equal(t, int64(70), available)
	assert.Zero(t, locked)
}

func TestExchange_CreateRequest_InsufficientBalance_RequestDeleted(t *testing.T) {
	// GIVEN: A member with 10 coins facing a 30-coin item
	// WHEN: Requesting
	// THEN: InsufficientBalance and no request record survives

	s, store := newService(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 10)

	_, err := s.CreateRequest(ctx, "member-1", "towel", memberActor)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	reqs, err := store.ListRequestsByUser(ctx, "member-1")
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestExchange_CreateRequest_AuditFailure_RequestDeleted(t *testing.T) {
	// GIVEN: The transaction log armed to fail
	// WHEN: Requesting
	// THEN: The lock is rolled back and the request compensated away

	s, store := newService(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)
	store.FailNext("Append", errors.New("log write refused"))

	_, err := s.CreateRequest(ctx, "member-1", "towel", memberActor)
	assert.ErrorIs(t, err, ledger.ErrAuditWriteFailure)

	available, locked := balanceOf(t, store, "member-1")
	assert.Equal(t, int64(100), available)
	assert.Zero(t, locked)

	reqs, err := store.ListRequestsByUser(ctx, "member-1")
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestExchange_CreateRequest_InactiveOrOutOfStock(t *testing.T) {
	s, store := newService(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)

	store.PutItem(exchange.Item{ID: "retired", Name: "Old shaker", CoinCost: 10, Stock: 3, Active: false})
	_, err := s.CreateRequest(ctx, "member-1", "retired", memberActor)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	store.PutItem(exchange.Item{ID: "empty", Name: "Sold out", CoinCost: 10, Stock: 0, Active: true})
	_, err = s.CreateRequest(ctx, "member-1", "empty", memberActor)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// FULFILL / CANCEL
// =============================================================================

func TestExchange_Fulfill_ConsumesCoinsAndDecrementsStock(t *testing.T) {
	// GIVEN: A pending 30-coin request
	// WHEN: An admin fulfills it
	// THEN: Coins consumed, request fulfilled, stock down by one

	s, store := newService(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)

	req, err := s.CreateRequest(ctx, "member-1", "towel", memberActor)
	require.NoError(t, err)

	require.NoError(t, s.Fulfill(ctx, req.ID, adminActor))

	got, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, exchange.RequestFulfilled, got.Status)

	available, locked := balanceOf(t, store, "member-1")
	assert.Equal(t, int64(70), available)
	assert.Zero(t, locked)

	item, err := store.GetItem(ctx, "towel")
	require.NoError(t, err)
	assert.Equal(t, 4, item.Stock)

	txs, err := store.ListByBooking(ctx, ledger.BookingID(req.ID))
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, ledger.TxConsume, txs[1].Type)
}

func TestExchange_Fulfill_MemberForbidden(t *testing.T) {
	s, store := newService(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)

	req, err := s.CreateRequest(ctx, "member-1", "towel", memberActor)
	require.NoError(t, err)

	err = s.Fulfill(ctx, req.ID, memberActor)
	var vErr *ledger.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "forbidden", vErr.Code)
}

func TestExchange_Cancel_UnlocksCoins(t *testing.T) {
	// GIVEN: A pending request with 30 coins reserved
	// WHEN: The owner cancels
	// THEN: The coins return and the request is cancelled

	s, store := newService(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)

	req, err := s.CreateRequest(ctx, "member-1", "towel", memberActor)
	require.NoError(t, err)

	require.NoError(t, s.Cancel(ctx, req.ID, memberActor))

	got, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, exchange.RequestCancelled, got.Status)

	available, locked := balanceOf(t, store, "member-1")
	assert.Equal(t, int64(100), available)
	assert.Zero(t, locked)
}

func TestExchange_Cancel_StrangerForbidden(t *testing.T) {
	s, store := newService(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)

	req, err := s.CreateRequest(ctx, "member-1", "towel", memberActor)
	require.NoError(t, err)

	err = s.Cancel(ctx, req.ID, booking.Actor{ID: "member-2", Role: "member"})
	var vErr *ledger.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "forbidden", vErr.Code)
}

func TestExchange_Cancel_UnlockFailure_RestoresPending(t *testing.T) {
	// GIVEN: The refund's audit write armed to fail
	// WHEN: Cancelling
	// THEN: The request returns to pending and the coins stay locked

	s, store := newService(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)

	req, err := s.CreateRequest(ctx, "member-1", "towel", memberActor)
	require.NoError(t, err)

	store.FailNext("Append", errors.New("log write refused"))
	err = s.Cancel(ctx, req.ID, memberActor)
	require.Error(t, err)

	got, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, exchange.RequestPending, got.Status)

	_, locked := balanceOf(t, store, "member-1")
	assert.Equal(t, int64(30), locked)
}

func TestExchange_Fulfill_AlreadySettled_Rejected(t *testing.T) {
	s, store := newService(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)

	req, err := s.CreateRequest(ctx, "member-1", "towel", memberActor)
	require.NoError(t, err)
	require.NoError(t, s.Fulfill(ctx, req.ID, adminActor))

	err = s.Fulfill(ctx, req.ID, adminActor)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	err = s.Cancel(ctx, req.ID, adminActor)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}
