/*
Package booking provides training-session bookings and the saga
orchestrator that creates and cancels them against the coin ledger.

PURPOSE:
  A booking is one scheduled slot for one member with one mentor at one
  timestamp, paid for with locked coins. This package owns the booking
  data model, the business-rule validation (hours, closures, shifts,
  blocked slots), and the multi-step create/cancel orchestration with
  compensating rollback.

KEY CONCEPTS IN THIS FILE (types.go):
  - Booking: the session record (status, coins used)
  - Reservation: the slot claim carrying the uniqueness constraint
  - SessionType: what is being booked and its coin cost
  - Reference data: business hours, closures, shifts, blocked slots

THE SESSION/RESERVATION SPLIT:
  A booking is persisted as a session row plus a reservation row. The
  reservation row carries the unique (mentor, timestamp) constraint
  and is deleted when a booking is cancelled, freeing the slot while
  the session row survives with status "cancelled" for history.

SEE ALSO:
  - orchestrator.go: Saga creating/cancelling bookings
  - rules.go: Slot validation
*/
package booking

import (
	"fmt"
	"time"

	"github.com/forgefit/coin-engine/ledger"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProviderID string
type SessionTypeID string

// Actor identifies who is performing an operation.
type Actor struct {
	ID   string
	Role string // "member" or "admin"
}

func (a Actor) IsAdmin() bool { return a.Role == "admin" }

// =============================================================================
// BOOKING - The session record
// =============================================================================

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// Booking is one scheduled slot for one member with one mentor.
// Destroyed only logically: cancellation flips Status and releases the
// reservation, the row itself stays for history and audit.
type Booking struct {
	ID            ledger.BookingID
	UserID        ledger.UserID
	ProviderID    ProviderID
	SessionTypeID SessionTypeID
	StartsAt      time.Time
	EndsAt        time.Time
	Status        Status
	CoinsUsed     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CancelReason  string
}

// Reservation is the slot claim for a booking. The storage layer
// enforces uniqueness on (ProviderID, StartsAt): that constraint - not
// any pre-check - is the sole authority preventing double-booking.
type Reservation struct {
	ID         string
	BookingID  ledger.BookingID
	ProviderID ProviderID
	StartsAt   time.Time
	CreatedAt  time.Time
}

// SessionType describes a bookable session and its price in coins.
type SessionType struct {
	ID              SessionTypeID
	Name            string
	CoinCost        int64
	DurationMinutes int
}

// =============================================================================
// PEOPLE - Members and mentors
// =============================================================================

type Member struct {
	ID     ledger.UserID
	Name   string
	Active bool
}

type Provider struct {
	ID     ProviderID
	Name   string
	Active bool
}

// =============================================================================
// REFERENCE DATA - Business hours, closures, shifts, blocks
// =============================================================================

// MinuteOfDay is a time-of-day as minutes from midnight (0..1439).
type MinuteOfDay int

func (m MinuteOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// ParseMinuteOfDay parses "HH:MM".
func ParseMinuteOfDay(s string) (MinuteOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q: out of range", s)
	}
	return MinuteOfDay(h*60 + m), nil
}

// MinuteOf extracts the minute-of-day from a timestamp.
func MinuteOf(t time.Time) MinuteOfDay {
	return MinuteOfDay(t.Hour()*60 + t.Minute())
}

// At composes a calendar date with a minute-of-day in UTC.
func (m MinuteOfDay) At(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), int(m)/60, int(m)%60, 0, 0, time.UTC)
}

// BusinessHours is the gym's weekly opening window for one weekday.
type BusinessHours struct {
	Weekday     time.Weekday
	OpenMinute  MinuteOfDay
	CloseMinute MinuteOfDay
	Closed      bool // regular weekly closing day
}

// Covers reports whether [start, end) falls inside the open window.
func (h BusinessHours) Covers(start, end MinuteOfDay) bool {
	if h.Closed {
		return false
	}
	return start >= h.OpenMinute && end <= h.CloseMinute
}

// ShiftWindow is a mentor's weekly availability window.
type ShiftWindow struct {
	ID          string
	ProviderID  ProviderID
	Weekday     time.Weekday
	StartMinute MinuteOfDay
	EndMinute   MinuteOfDay
}

// Covers reports whether the shift covers [start, end).
func (s ShiftWindow) Covers(start, end MinuteOfDay) bool {
	return start >= s.StartMinute && end <= s.EndMinute
}

// BlockedSlot marks a date (or a time range within it) unavailable.
// An empty ProviderID blocks the whole gym.
type BlockedSlot struct {
	ID          string
	ProviderID  ProviderID // empty = gym-wide
	Date        time.Time  // calendar date, midnight UTC
	AllDay      bool
	StartMinute MinuteOfDay
	EndMinute   MinuteOfDay
	Reason      string
}

// Blocks reports whether the slot blocks [start, end) for the given
// mentor on the slot's date.
func (b BlockedSlot) Blocks(providerID ProviderID, start, end MinuteOfDay) bool {
	if b.ProviderID != "" && b.ProviderID != providerID {
		return false
	}
	if b.AllDay {
		return true
	}
	return start < b.EndMinute && end > b.StartMinute
}

// DateKey truncates a timestamp to its UTC calendar date.
func DateKey(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
