/*
orchestrator.go - Saga coordinator for booking create/cancel/complete

PURPOSE:
  Creates a booking as a sequence of independent storage writes made
  safe by compensating actions, and runs the mirror path for
  cancellation, completion, and no-show.

CREATE SAGA:
  1. Validate (pure checks, advisory balance pre-check, no mutation)
  2. Create the session record         - undo: delete it
  3. Create the reservation record     - undo: delete it
     A uniqueness violation HERE is the one true double-booking
     signal and surfaces as "slot taken".
  4. Lock coins + write the audit row (ledger.Service handles the
     retry-once and the audit-failure rollback of the lock itself)
  5. Done. Notify fire-and-forget.

CANCEL PATH:
  Mark cancelled -> release the reservation -> exactly ONE of
  refund (unlock) or forfeit (consume) of CoinsUsed, decided by a
  single deadline rule - never a partial split - then the audit row.

ABANDONMENT:
  After validation the saga runs on a context detached from request
  cancellation: a client disconnect mid-saga still ends in a complete
  booking or a complete rollback.

SEE ALSO:
  - saga.go: The compensation stack
  - ledger/service.go: Lock/unlock/consume with the audit rule
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/forgefit/coin-engine/config"
	"github.com/forgefit/coin-engine/ledger"
	"github.com/forgefit/coin-engine/notify"
)

// =============================================================================
// ORCHESTRATOR
// =============================================================================

type Orchestrator struct {
	Bookings  Store
	Validator *Validator
	Ledger    *ledger.Service
	Settings  *config.Settings
	Notifier  notify.Dispatcher
	Now       ledger.Clock
}

func NewOrchestrator(bookings Store, refs ReferenceStore, dir Directory, svc *ledger.Service, settings *config.Settings, notifier notify.Dispatcher) *Orchestrator {
	return &Orchestrator{
		Bookings:  bookings,
		Validator: &Validator{Refs: refs, Directory: dir},
		Ledger:    svc,
		Settings:  settings,
		Notifier:  notifier,
		Now:       ledger.SystemClock,
	}
}

// CreateBookingInput is one booking attempt.
type CreateBookingInput struct {
	UserID        ledger.UserID
	ProviderID    ProviderID
	SessionTypeID SessionTypeID
	StartsAt      time.Time
	Actor         Actor
}

// CreateBooking runs the create saga. On success the booking is
// confirmed, its coins are locked, and the audit row is written. On
// any failure every applied step has been compensated.
func (o *Orchestrator) CreateBooking(ctx context.Context, in CreateBookingInput) (Booking, error) {
	sessionType, err := o.Validator.Refs.GetSessionType(ctx, in.SessionTypeID)
	if err != nil {
		return Booking{}, fmt.Errorf("looking up session type %s: %w", in.SessionTypeID, err)
	}
	endsAt := in.StartsAt.Add(time.Duration(sessionType.DurationMinutes) * time.Minute)

	// Step 1: validation. Pure checks, fail fast, nothing to undo.
	now := o.Now()
	if !in.StartsAt.After(now) {
		return Booking{}, &ledger.ValidationError{Code: ReasonPastSlot, Message: "cannot book a past slot"}
	}
	if err := o.Validator.ValidateSlot(ctx, in.UserID, in.ProviderID, in.StartsAt, endsAt); err != nil {
		return Booking{}, err
	}
	// Advisory balance pre-check: catches the common shortfall before
	// any write. The lock itself re-checks authoritatively.
	available, err := o.Ledger.AvailableBalance(ctx, in.UserID)
	if err != nil {
		return Booking{}, fmt.Errorf("%w: balance pre-check: %v", ledger.ErrDependencyUnavailable, err)
	}
	if available < sessionType.CoinCost {
		return Booking{}, &ledger.InsufficientBalanceError{
			UserID: in.UserID, Available: available, Requested: sessionType.CoinCost}
	}

	// Mutations run detached from request cancellation: a disconnect
	// after this point must not abandon a half-applied saga.
	ctx = context.WithoutCancel(ctx)
	sg := newSaga()

	b := Booking{
		ID:            ledger.BookingID(uuid.NewString()),
		UserID:        in.UserID,
		ProviderID:    in.ProviderID,
		SessionTypeID: in.SessionTypeID,
		StartsAt:      in.StartsAt,
		EndsAt:        endsAt,
		Status:        StatusConfirmed,
		CoinsUsed:     sessionType.CoinCost,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// Step 2: session record.
	if err := o.Bookings.CreateBooking(ctx, b); err != nil {
		return Booking{}, fmt.Errorf("%w: creating session: %v", ledger.ErrDependencyUnavailable, err)
	}
	sg.advance(StateSessionCreated, "delete session", func(ctx context.Context) error {
		return o.Bookings.DeleteBooking(ctx, b.ID)
	})

	// Step 3: reservation record. The uniqueness guard fires here.
	res := Reservation{
		ID:         uuid.NewString(),
		BookingID:  b.ID,
		ProviderID: in.ProviderID,
		StartsAt:   in.StartsAt,
		CreatedAt:  now,
	}
	if err := o.Bookings.CreateReservation(ctx, res); err != nil {
		sg.unwind(ctx)
		if errors.Is(err, ledger.ErrUniquenessConflict) {
			return Booking{}, err
		}
		return Booking{}, fmt.Errorf("%w: creating reservation: %v", ledger.ErrDependencyUnavailable, err)
	}
	sg.advance(StateReservationCreated, "delete reservation", func(ctx context.Context) error {
		return o.Bookings.DeleteReservationForBooking(ctx, b.ID)
	})

	// Step 4+5: lock coins and write the audit row. The ledger service
	// retries once on concurrent modification and reverses the lock if
	// the audit write fails, so a returned error means the ledger is
	// already back to its pre-lock state.
	if _, err := o.Ledger.LockCoins(ctx, in.UserID, sessionType.CoinCost, b.ID, in.Actor.ID); err != nil {
		sg.unwind(ctx)
		return Booking{}, err
	}
	sg.advance(StateLogWritten, "", nil)

	sg.done()
	log.Printf("[Booking] created %s: user=%s mentor=%s at %s (%d coins)",
		b.ID, b.UserID, b.ProviderID, b.StartsAt.Format(time.RFC3339), b.CoinsUsed)

	notify.FireAndForget(o.Notifier, notify.Event{
		Type:   notify.EventBookingCreated,
		UserID: string(b.UserID),
		Title:  "Booking confirmed",
		Body:   fmt.Sprintf("Your session on %s is booked (%d coins).", b.StartsAt.Format("Jan 2 15:04"), b.CoinsUsed),
	})
	return b, nil
}

// =============================================================================
// CANCELLATION - Refund or forfeit, never both
// =============================================================================

// CancelResult reports which side of the deadline the cancellation
// landed on. Exactly one of the two is non-zero for a paid booking.
type CancelResult struct {
	BookingID ledger.BookingID
	Refunded  int64
	Forfeited int64
}

// CancelBooking cancels a booking. Inside the refund window the locked
// coins return to the member; past it they are forfeited. The boundary
// is the cancellation_deadline_hours setting before the booking time.
func (o *Orchestrator) CancelBooking(ctx context.Context, id ledger.BookingID, actor Actor, reason string) (CancelResult, error) {
	b, err := o.Bookings.GetBooking(ctx, id)
	if err != nil {
		return CancelResult{}, err
	}
	if b.Status != StatusConfirmed && b.Status != StatusPending {
		return CancelResult{}, &ledger.ValidationError{Code: "not_cancellable",
			Message: fmt.Sprintf("booking %s is %s", id, b.Status)}
	}
	if !actor.IsAdmin() && actor.ID != string(b.UserID) {
		return CancelResult{}, &ledger.ValidationError{Code: "forbidden",
			Message: "only the booking owner or an admin may cancel"}
	}

	deadlineHours, err := o.Settings.CancellationDeadlineHours(ctx)
	if err != nil {
		return CancelResult{}, fmt.Errorf("%w: %v", ledger.ErrDependencyUnavailable, err)
	}
	now := o.Now()
	refundable := now.Before(b.StartsAt.Add(-time.Duration(deadlineHours) * time.Hour))

	ctx = context.WithoutCancel(ctx)
	sg := newSaga()

	prevStatus := b.Status
	if err := o.Bookings.SetBookingStatus(ctx, id, StatusCancelled, reason); err != nil {
		return CancelResult{}, fmt.Errorf("%w: marking cancelled: %v", ledger.ErrDependencyUnavailable, err)
	}
	sg.advance(StateSessionCreated, "restore status", func(ctx context.Context) error {
		return o.Bookings.SetBookingStatus(ctx, id, prevStatus, "")
	})

	if err := o.Bookings.DeleteReservationForBooking(ctx, id); err != nil {
		sg.unwind(ctx)
		return CancelResult{}, fmt.Errorf("%w: releasing slot: %v", ledger.ErrDependencyUnavailable, err)
	}
	sg.advance(StateReservationCreated, "recreate reservation", func(ctx context.Context) error {
		return o.Bookings.CreateReservation(ctx, Reservation{
			ID:         uuid.NewString(),
			BookingID:  id,
			ProviderID: b.ProviderID,
			StartsAt:   b.StartsAt,
			CreatedAt:  o.Now(),
		})
	})

	result := CancelResult{BookingID: id}
	if b.CoinsUsed > 0 {
		if refundable {
			if err := o.Ledger.UnlockCoins(ctx, b.UserID, b.CoinsUsed, id, actor.ID); err != nil {
				sg.unwind(ctx)
				return CancelResult{}, err
			}
			result.Refunded = b.CoinsUsed
		} else {
			if err := o.Ledger.ConsumeCoins(ctx, b.UserID, b.CoinsUsed, id, actor.ID, true); err != nil {
				// A consume that succeeded but failed its audit write is
				// final: the coins are gone and re-confirming the booking
				// would resurrect a slot nobody paid for. Only unwind
				// when the consume itself never happened.
				if !errors.Is(err, ledger.ErrAuditWriteFailure) {
					sg.unwind(ctx)
				}
				return CancelResult{}, err
			}
			result.Forfeited = b.CoinsUsed
		}
	}

	sg.done()
	outcome := "refunded"
	if result.Forfeited > 0 {
		outcome = "forfeited"
	}
	log.Printf("[Booking] cancelled %s: user=%s %s %d coins", id, b.UserID, outcome, b.CoinsUsed)

	notify.FireAndForget(o.Notifier, notify.Event{
		Type:   notify.EventBookingCancelled,
		UserID: string(b.UserID),
		Title:  "Booking cancelled",
		Body:   fmt.Sprintf("Your session on %s was cancelled; %d coins %s.", b.StartsAt.Format("Jan 2 15:04"), b.CoinsUsed, outcome),
	})
	return result, nil
}

// =============================================================================
// COMPLETION AND NO-SHOW - Finalizing the spend
// =============================================================================

// Complete marks a confirmed booking completed and finalizes the coin
// spend (locked -> consumed).
func (o *Orchestrator) Complete(ctx context.Context, id ledger.BookingID, actor Actor) error {
	return o.finalize(ctx, id, actor, StatusCompleted, false)
}

// MarkNoShow records that the member did not attend. The locked coins
// are forfeited.
func (o *Orchestrator) MarkNoShow(ctx context.Context, id ledger.BookingID, actor Actor) error {
	return o.finalize(ctx, id, actor, StatusNoShow, true)
}

func (o *Orchestrator) finalize(ctx context.Context, id ledger.BookingID, actor Actor, to Status, forfeit bool) error {
	if !actor.IsAdmin() {
		return &ledger.ValidationError{Code: "forbidden", Message: "only admins finalize bookings"}
	}
	b, err := o.Bookings.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	if b.Status != StatusConfirmed {
		return &ledger.ValidationError{Code: "not_finalizable",
			Message: fmt.Sprintf("booking %s is %s", id, b.Status)}
	}

	ctx = context.WithoutCancel(ctx)
	if b.CoinsUsed > 0 {
		if err := o.Ledger.ConsumeCoins(ctx, b.UserID, b.CoinsUsed, id, actor.ID, forfeit); err != nil {
			return err
		}
	}
	if err := o.Bookings.SetBookingStatus(ctx, id, to, ""); err != nil {
		// The spend is final; the status flip can be retried by the
		// admin without financial effect.
		return fmt.Errorf("coins finalized but status update failed (retry safe): %w", err)
	}
	return nil
}
