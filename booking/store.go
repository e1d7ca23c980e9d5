/*
store.go - Persistence interfaces for bookings and reference data

PURPOSE:
  Defines what the orchestrator and the recurring batch need from the
  database. Implemented by store/sqlite (production) and store/memory
  (tests, dev mode).

THE UNIQUENESS CONSTRAINT:
  CreateReservation MUST fail with ledger.ErrUniquenessConflict when a
  non-cancelled reservation already holds (ProviderID, StartsAt). This
  constraint is the single source of truth for double-booking; every
  pre-check in rules.go is advisory only.

SEE ALSO:
  - orchestrator.go: Drives these interfaces as saga steps
  - recurring: Uses the range queries for its one-shot snapshot
*/
package booking

import (
	"context"
	"time"

	"github.com/forgefit/coin-engine/ledger"
)

// =============================================================================
// BOOKING STORE
// =============================================================================

// Store persists bookings and reservations.
type Store interface {
	// CreateBooking inserts the session record.
	CreateBooking(ctx context.Context, b Booking) error

	// DeleteBooking removes a session record. Compensation only - a
	// booking that completed its saga is never deleted, just
	// status-transitioned.
	DeleteBooking(ctx context.Context, id ledger.BookingID) error

	GetBooking(ctx context.Context, id ledger.BookingID) (Booking, error)

	// SetBookingStatus transitions a booking's status. Reason is
	// recorded for cancellations and may be empty otherwise.
	SetBookingStatus(ctx context.Context, id ledger.BookingID, status Status, reason string) error

	// CreateReservation claims the slot. ledger.ErrUniquenessConflict
	// when (ProviderID, StartsAt) is already held.
	CreateReservation(ctx context.Context, r Reservation) error

	// DeleteReservationForBooking releases a booking's slot claim.
	// Used both as saga compensation and on cancellation.
	DeleteReservationForBooking(ctx context.Context, bookingID ledger.BookingID) error

	// BookingsForUsersInRange returns all non-cancelled bookings for
	// the given users with StartsAt in [from, to). Used by the
	// recurring batch's conflict snapshot.
	BookingsForUsersInRange(ctx context.Context, userIDs []ledger.UserID, from, to time.Time) ([]Booking, error)

	// ListBookingsByUser returns a user's bookings, newest first.
	ListBookingsByUser(ctx context.Context, userID ledger.UserID, limit int) ([]Booking, error)
}

// =============================================================================
// REFERENCE STORE - Business rules data
// =============================================================================

// ReferenceStore reads the rule data bookings are validated against.
// The ...InRange / All... variants exist so the recurring batch can
// snapshot a whole month in a fixed number of queries.
type ReferenceStore interface {
	GetSessionType(ctx context.Context, id SessionTypeID) (SessionType, error)

	HoursFor(ctx context.Context, weekday time.Weekday) (BusinessHours, error)
	AllHours(ctx context.Context) ([]BusinessHours, error)

	// IsClosure reports an ad hoc closure on the given calendar date.
	IsClosure(ctx context.Context, date time.Time) (bool, error)
	ClosuresInRange(ctx context.Context, from, to time.Time) ([]time.Time, error)

	ShiftsFor(ctx context.Context, providerID ProviderID, weekday time.Weekday) ([]ShiftWindow, error)
	AllShifts(ctx context.Context) ([]ShiftWindow, error)

	BlockedFor(ctx context.Context, providerID ProviderID, date time.Time) ([]BlockedSlot, error)
	BlockedInRange(ctx context.Context, from, to time.Time) ([]BlockedSlot, error)
}

// Directory looks up members and mentors. Authentication happens
// outside this system; the directory only answers identity and
// active-flag questions.
type Directory interface {
	GetMember(ctx context.Context, id ledger.UserID) (Member, error)
	GetProvider(ctx context.Context, id ProviderID) (Provider, error)

	// Bulk lookups for the recurring batch snapshot.
	MembersByID(ctx context.Context, ids []ledger.UserID) (map[ledger.UserID]Member, error)
	ProvidersByID(ctx context.Context, ids []ProviderID) (map[ProviderID]Provider, error)
}
