/*
snapshot.go - One-shot precomputed state for a batch run

PURPOSE:
  Everything a run needs to evaluate hundreds of (template, date)
  pairs is fetched up front in a fixed number of queries: business
  hours, closure dates, blocked slots, mentor shifts, member/mentor
  active flags, session types, existing bookings, and the ledger
  mirror. The per-date loop then runs entirely against these maps.

MUTATION DURING THE RUN:
  userSlots and providerSlots grow as bookings are created, so later
  iterations of the same run see earlier ones - the exclusion set that
  lets the single-threaded batch create reservations without the full
  orchestrator's conflict handling.

SEE ALSO:
  - engine.go: Builds and consumes the snapshot
*/
package recurring

import (
	"context"
	"time"

	"github.com/forgefit/coin-engine/booking"
	"github.com/forgefit/coin-engine/ledger"
)

// slotKey identifies one exact timestamp for one member or one mentor.
type userSlotKey struct {
	UserID ledger.UserID
	At     time.Time
}

type providerSlotKey struct {
	ProviderID booking.ProviderID
	At         time.Time
}

// runSnapshot is the working state of one expansion run.
type runSnapshot struct {
	month          Month
	datesByWeekday map[time.Weekday][]time.Time

	hours        map[time.Weekday]booking.BusinessHours
	closures     map[time.Time]bool
	blockedByDay map[time.Time][]booking.BlockedSlot
	shifts       map[booking.ProviderID]map[time.Weekday][]booking.ShiftWindow
	providers    map[booking.ProviderID]booking.Provider
	members      map[ledger.UserID]booking.Member
	sessionTypes map[booking.SessionTypeID]booking.SessionType

	userSlots     map[userSlotKey]bool
	providerSlots map[providerSlotKey]bool

	mirror *Mirror
}

// buildSnapshot runs the fixed set of precomputation queries.
func (e *Engine) buildSnapshot(ctx context.Context, month Month, templates []Template) (*runSnapshot, error) {
	s := &runSnapshot{
		month:          month,
		datesByWeekday: month.DatesByWeekday(),
		hours:          make(map[time.Weekday]booking.BusinessHours),
		closures:       make(map[time.Time]bool),
		blockedByDay:   make(map[time.Time][]booking.BlockedSlot),
		shifts:         make(map[booking.ProviderID]map[time.Weekday][]booking.ShiftWindow),
		sessionTypes:   make(map[booking.SessionTypeID]booking.SessionType),
		userSlots:      make(map[userSlotKey]bool),
		providerSlots:  make(map[providerSlotKey]bool),
	}

	// Who and what do the templates reference?
	userSet := map[ledger.UserID]bool{}
	providerSet := map[booking.ProviderID]bool{}
	typeSet := map[booking.SessionTypeID]bool{}
	for _, t := range templates {
		userSet[t.UserID] = true
		providerSet[t.ProviderID] = true
		typeSet[t.SessionTypeID] = true
	}
	userIDs := make([]ledger.UserID, 0, len(userSet))
	for id := range userSet {
		userIDs = append(userIDs, id)
	}
	providerIDs := make([]booking.ProviderID, 0, len(providerSet))
	for id := range providerSet {
		providerIDs = append(providerIDs, id)
	}

	// Business hours for the whole week.
	allHours, err := e.Refs.AllHours(ctx)
	if err != nil {
		return nil, err
	}
	for _, h := range allHours {
		s.hours[h.Weekday] = h
	}

	// Ad hoc closure dates in range.
	closures, err := e.Refs.ClosuresInRange(ctx, month.Start(), month.End())
	if err != nil {
		return nil, err
	}
	for _, d := range closures {
		s.closures[booking.DateKey(d)] = true
	}

	// Blocked slots in range, keyed by date.
	blocked, err := e.Refs.BlockedInRange(ctx, month.Start(), month.End())
	if err != nil {
		return nil, err
	}
	for _, b := range blocked {
		k := booking.DateKey(b.Date)
		s.blockedByDay[k] = append(s.blockedByDay[k], b)
	}

	// Every mentor shift window, keyed by mentor and weekday.
	shifts, err := e.Refs.AllShifts(ctx)
	if err != nil {
		return nil, err
	}
	for _, sh := range shifts {
		byDay := s.shifts[sh.ProviderID]
		if byDay == nil {
			byDay = make(map[time.Weekday][]booking.ShiftWindow)
			s.shifts[sh.ProviderID] = byDay
		}
		byDay[sh.Weekday] = append(byDay[sh.Weekday], sh)
	}

	// Active flags.
	s.providers, err = e.Directory.ProvidersByID(ctx, providerIDs)
	if err != nil {
		return nil, err
	}
	s.members, err = e.Directory.MembersByID(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	// Session types.
	for id := range typeSet {
		st, err := e.Refs.GetSessionType(ctx, id)
		if err != nil {
			return nil, err
		}
		s.sessionTypes[id] = st
	}

	// Existing bookings for the affected members in the target month -
	// the conflict/idempotence set.
	existing, err := e.Bookings.BookingsForUsersInRange(ctx, userIDs, month.Start(), month.End())
	if err != nil {
		return nil, err
	}
	for _, b := range existing {
		s.userSlots[userSlotKey{UserID: b.UserID, At: b.StartsAt}] = true
		s.providerSlots[providerSlotKey{ProviderID: b.ProviderID, At: b.StartsAt}] = true
	}

	// Full ledger mirror for every affected member.
	s.mirror = NewMirror(e.Entries, e.Now())
	if err := s.mirror.LoadUsers(ctx, userIDs); err != nil {
		return nil, err
	}

	return s, nil
}

// businessClosed reports regular weekly closure or an ad hoc closure
// date, or an open window that does not cover the slot.
func (s *runSnapshot) businessClosed(date time.Time, start, end booking.MinuteOfDay) bool {
	h, ok := s.hours[date.Weekday()]
	if !ok || h.Closed {
		return true
	}
	if s.closures[booking.DateKey(date)] {
		return true
	}
	return !h.Covers(start, end)
}

// slotBlocked checks the precomputed blocked slots for the date.
func (s *runSnapshot) slotBlocked(providerID booking.ProviderID, date time.Time, start, end booking.MinuteOfDay) bool {
	for _, b := range s.blockedByDay[booking.DateKey(date)] {
		if b.Blocks(providerID, start, end) {
			return true
		}
	}
	return false
}

// shiftCovers checks mentor shift coverage from the precomputed map.
func (s *runSnapshot) shiftCovers(providerID booking.ProviderID, weekday time.Weekday, start, end booking.MinuteOfDay) bool {
	return booking.AnyShiftCovers(s.shifts[providerID][weekday], start, end)
}

// claim records a created booking in the exclusion set so later
// iterations of this run see it.
func (s *runSnapshot) claim(userID ledger.UserID, providerID booking.ProviderID, at time.Time) {
	s.userSlots[userSlotKey{UserID: userID, At: at}] = true
	s.providerSlots[providerSlotKey{ProviderID: providerID, At: at}] = true
}
