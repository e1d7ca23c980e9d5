package booking_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgefit/coin-engine/booking"
	"github.com/forgefit/coin-engine/config"
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

// newFixture wires an orchestrator over a memory store with the gym
// open all week, one mentor on duty, and one 50-coin session type.
func newFixture(t *testing.T) (*booking.Orchestrator, *memory.Memory) {
	t.Helper()
	store := memory.New()

	svc := ledger.NewService(store, store)
	svc.Now = fixedClock
	svc.Allocator.Now = fixedClock

	o := booking.NewOrchestrator(store, store, store, svc, config.NewSettings(store), notify.LogDispatcher{})
	o.Now = fixedClock

	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		store.PutHours(booking.BusinessHours{Weekday: wd, OpenMinute: 6 * 60, CloseMinute: 22 * 60})
		store.PutShift(booking.ShiftWindow{
			ID: "shift-" + wd.String(), ProviderID: "mentor-1",
			Weekday: wd, StartMinute: 6 * 60, EndMinute: 22 * 60,
		})
	}
	store.PutMember(booking.Member{ID: "member-1", Name: "Ada", Active: true})
	store.PutMember(booking.Member{ID: "member-2", Name: "Grace", Active: true})
	store.PutProvider(booking.Provider{ID: "mentor-1", Name: "Coach", Active: true})
	store.PutSessionType(booking.SessionType{ID: "pt60", Name: "Personal training", CoinCost: 50, DurationMinutes: 60})

	return o, store
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

func createInput(user string, startsAt time.Time) booking.CreateBookingInput {
	return booking.CreateBookingInput{
		UserID:        ledger.UserID(user),
		ProviderID:    "mentor-1",
		SessionTypeID: "pt60",
		StartsAt:      startsAt,
		Actor:         booking.Actor{ID: user, Role: "member"},
	}
}

// =============================================================================
// CREATE SAGA
// =============================================================================

func TestCreateBooking_Succeeds(t *testing.T) {
	// GIVEN: A member with 100 coins and a free 10:00 slot in two days
	// WHEN: Booking the slot
	// THEN: Booking confirmed, 50 coins locked, one lock audit row

	o, store := newFixture(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)

	startsAt := time.Date(2026, time.September, 3, 10, 0, 0, 0, time.UTC)
	b, err := o.CreateBooking(ctx, createInput("member-1", startsAt))
	require.NoError(t, err)

	assert.Equal(t, booking.StatusConfirmed, b.Status)
	assert.Equal(t, int64(50), b.CoinsUsed)
	assert.Equal(t, startsAt.Add(time.Hour), b.EndsAt)

	available, locked := balanceOf(t, store, "member-1")
	assert.Equal(t, int64(50), available)
	assert.Equal(t, int64(50), locked)

	txs, err := store.ListByBooking(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TxLock, txs[0].Type)
}

func TestCreateBooking_SlotTaken_EverythingUnwound(t *testing.T) {
	// GIVEN: Member 1 holds the 10:00 slot with mentor-1
	// WHEN: Member 2 books the same mentor and timestamp
	// THEN: UniquenessConflict; member 2 has no booking and no coins
	//       touched

	o, store := newFixture(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)
	grantCoins(t, store, "member-2", 100)

	startsAt := time.Date(2026, time.September, 3, 10, 0, 0, 0, time.UTC)
	_, err := o.CreateBooking(ctx, createInput("member-1", startsAt))
	require.NoError(t, err)

	_, err = o.CreateBooking(ctx, createInput("member-2", startsAt))
	assert.ErrorIs(t, err, ledger.ErrUniquenessConflict)

	available, locked := balanceOf(t, store, "member-2")
	assert.Equal(t, int64(100), available)
	assert.Zero(t, locked)

	list, err := store.ListBookingsByUser(ctx, "member-2", 0)
	require.NoError(t, err)
	assert.Empty(t, list, "the session record must not survive the unwind")
}

func TestCreateBooking_AuditFailure_EverythingUnwound(t *testing.T) {
	// GIVEN: The transaction log armed to fail
	// WHEN: Booking
	// THEN: Audit failure surfaces; session, reservation and lock are
	//       all unwound, and the slot is bookable again

	o, store := newFixture(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)
	store.FailNext("Append", errors.New("log write refused"))

	startsAt := time.Date(2026, time.September, 3, 10, 0, 0, 0, time.UTC)
	_, err := o.CreateBooking(ctx, createInput("member-1", startsAt))
	assert.ErrorIs(t, err, ledger.ErrAuditWriteFailure)

	available, locked := balanceOf(t, store, "member-1")
	assert.Equal(t, int64(100), available)
	assert.Zero(t, locked)

	list, err := store.ListBookingsByUser(ctx, "member-1", 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	// The reservation was released: the same slot books fine now.
	_, err = o.CreateBooking(ctx, createInput("member-1", startsAt))
	require.NoError(t, err)
}

func TestCreateBooking_InsufficientBalance_NothingWritten(t *testing.T) {
	// GIVEN: A member with 30 coins facing a 50-coin session
	// WHEN: Booking
	// THEN: InsufficientBalance before any write

	o, store := newFixture(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 30)

	startsAt := time.Date(2026, time.September, 3, 10, 0, 0, 0, time.UTC)
	_, err := o.CreateBooking(ctx, createInput("member-1", startsAt))
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	list, err := store.ListBookingsByUser(ctx, "member-1", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateBooking_PastSlot_Rejected(t *testing.T) {
	o, store := newFixture(t)
	grantCoins(t, store, "member-1", 100)

	_, err := o.CreateBooking(context.Background(),
		createInput("member-1", testNow.Add(-time.Hour)))
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestCreateBooking_RuleViolations(t *testing.T) {
	// GIVEN: Slots violating one business rule each
	// WHEN: Booking
	// THEN: The matching validation code comes back

	o, store := newFixture(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)

	// Outside business hours: 05:00 start.
	_, err := o.CreateBooking(ctx, createInput("member-1",
		time.Date(2026, time.September, 3, 5, 0, 0, 0, time.UTC)))
	var vErr *ledger.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, booking.ReasonOutsideHours, vErr.Code)

	// Closure date.
	store.PutClosure(time.Date(2026, time.September, 4, 0, 0, 0, 0, time.UTC))
	_, err = o.CreateBooking(ctx, createInput("member-1",
		time.Date(2026, time.September, 4, 10, 0, 0, 0, time.UTC)))
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, booking.ReasonClosureDate, vErr.Code)

	// Blocked slot.
	store.PutBlockedSlot(booking.BlockedSlot{
		ID: "blk-1", ProviderID: "mentor-1",
		Date:        time.Date(2026, time.September, 5, 0, 0, 0, 0, time.UTC),
		StartMinute: 10 * 60, EndMinute: 11 * 60, Reason: "maintenance",
	})
	_, err = o.CreateBooking(ctx, createInput("member-1",
		time.Date(2026, time.September, 5, 10, 0, 0, 0, time.UTC)))
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, booking.ReasonSlotBlocked, vErr.Code)

	// Inactive mentor.
	store.PutProvider(booking.Provider{ID: "mentor-1", Name: "Coach", Active: false})
	_, err = o.CreateBooking(ctx, createInput("member-1",
		time.Date(2026, time.September, 7, 10, 0, 0, 0, time.UTC)))
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, booking.ReasonProviderInactive, vErr.Code)
}

// =============================================================================
// CANCELLATION - One side of the deadline, never both
// =============================================================================

func TestCancelBooking_BeforeDeadline_Refunds(t *testing.T) {
	// GIVEN: A booking 48h out and a 24h cancellation deadline
	// WHEN: The owner cancels now
	// THEN: Full refund, slot freed, unlock audit row

	o, store := newFixture(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)

	startsAt := testNow.Add(48 * time.Hour)
	b, err := o.CreateBooking(ctx, createInput("member-1", startsAt))
	require.NoError(t, err)

	result, err := o.CancelBooking(ctx, b.ID, memberActor, "schedule change")
	require.NoError(t, err)
	assert.Equal(t, int64(50), result.Refunded)
	assert.Zero(t, result.Forfeited)

	available, locked := balanceOf(t, store, "member-1")
	assert.Equal(t, int64(100), available)
	assert.Zero(t, locked)

	got, err := store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, got.Status)
	assert.Equal(t, "schedule change", got.CancelReason)

	// The slot is free again.
	grantCoins(t, store, "member-2", 100)
	_, err = o.CreateBooking(ctx, createInput("member-2", startsAt))
	require.NoError(t, err)
}

func TestCancelBooking_AfterDeadline_Forfeits(t *testing.T) {
	// GIVEN: A booking 20h out with a 24h deadline
	// WHEN: The owner cancels
	// THEN: The locked coins are forfeited, none refunded

	o, store := newFixture(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)

	b, err := o.CreateBooking(ctx, createInput("member-1", testNow.Add(20*time.Hour)))
	require.NoError(t, err)

	result, err := o.CancelBooking(ctx, b.ID, memberActor, "")
	require.NoError(t, err)
	assert.Zero(t, result.Refunded)
	assert.Equal(t, int64(50), result.Forfeited)

	available, locked := balanceOf(t, store, "member-1")
	assert.Equal(t, int64(50), available)
	assert.Zero(t, locked)

	txs, err := store.ListByBooking(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, ledger.TxForfeit, txs[1].Type)
}

func TestCancelBooking_DeadlineFromSettings(t *testing.T) {
	// GIVEN: The deadline raised to 72h
	// WHEN: Cancelling a booking 48h out
	// THEN: It forfeits - the stored setting, not the default, decides

	o, store := newFixture(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)
	require.NoError(t, store.SetSetting(ctx, config.KeyCancellationDeadlineHours, "72"))

	b, err := o.CreateBooking(ctx, createInput("member-1", testNow.Add(48*time.Hour)))
	require.NoError(t, err)

	result, err := o.CancelBooking(ctx, b.ID, memberActor, "")
	require.NoError(t, err)
	assert.Equal(t, int64(50), result.Forfeited)
}

func TestCancelBooking_StrangerForbidden(t *testing.T) {
	// GIVEN: Member 1's booking
	// WHEN: Member 2 tries to cancel it
	// THEN: Forbidden; admins may cancel anyone's

	o, store := newFixture(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)

	b, err := o.CreateBooking(ctx, createInput("member-1", testNow.Add(48*time.Hour)))
	require.NoError(t, err)

	_, err = o.CancelBooking(ctx, b.ID, booking.Actor{ID: "member-2", Role: "member"}, "")
	var vErr *ledger.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "forbidden", vErr.Code)

	_, err = o.CancelBooking(ctx, b.ID, adminActor, "admin override")
	require.NoError(t, err)
}

func TestCancelBooking_AlreadyCancelled_Rejected(t *testing.T) {
	o, store := newFixture(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)

	b, err := o.CreateBooking(ctx, createInput("member-1", testNow.Add(48*time.Hour)))
	require.NoError(t, err)
	_, err = o.CancelBooking(ctx, b.ID, memberActor, "")
	require.NoError(t, err)

	_, err = o.CancelBooking(ctx, b.ID, memberActor, "")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestCancelBooking_UnlockFailure_RestoresBooking(t *testing.T) {
	// GIVEN: The refund's audit write armed to fail
	// WHEN: Cancelling inside the refund window
	// THEN: The cancellation unwinds - the booking is confirmed again
	//       and the coins stay locked

	o, store := newFixture(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)

	b, err := o.CreateBooking(ctx, createInput("member-1", testNow.Add(48*time.Hour)))
	require.NoError(t, err)

	store.FailNext("Append", errors.New("log write refused"))
	_, err = o.CancelBooking(ctx, b.ID, memberActor, "")
	require.Error(t, err)

	got, err := store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, got.Status)

	_, locked := balanceOf(t, store, "member-1")
	assert.Equal(t, int64(50), locked)
}

// =============================================================================
// COMPLETION AND NO-SHOW
// =============================================================================

func TestComplete_ConsumesCoins(t *testing.T) {
	// GIVEN: A confirmed booking with 50 coins locked
	// WHEN: An admin marks it completed
	// THEN: The coins are consumed and the status flips

	o, store := newFixture(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)

	b, err := o.CreateBooking(ctx, createInput("member-1", testNow.Add(48*time.Hour)))
	require.NoError(t, err)

	require.NoError(t, o.Complete(ctx, b.ID, adminActor))

	got, err := store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCompleted, got.Status)

	available, locked := balanceOf(t, store, "member-1")
	assert.Equal(t, int64(50), available)
	assert.Zero(t, locked)

	txs, err := store.ListByBooking(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, ledger.TxConsume, txs[1].Type)
}

func TestMarkNoShow_ForfeitsCoins(t *testing.T) {
	o, store := newFixture(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)

	b, err := o.CreateBooking(ctx, createInput("member-1", testNow.Add(48*time.Hour)))
	require.NoError(t, err)

	require.NoError(t, o.MarkNoShow(ctx, b.ID, adminActor))

	got, err := store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusNoShow, got.Status)

	txs, err := store.ListByBooking(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, ledger.TxForfeit, txs[1].Type)
}

func TestFinalize_MemberForbidden(t *testing.T) {
	o, store := newFixture(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)

	b, err := o.CreateBooking(ctx, createInput("member-1", testNow.Add(48*time.Hour)))
	require.NoError(t, err)

	err = o.Complete(ctx, b.ID, memberActor)
	var vErr *ledger.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "forbidden", vErr.Code)

	err = o.MarkNoShow(ctx, b.ID, memberActor)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "forbidden", vErr.Code)
}
