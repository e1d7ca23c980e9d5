/*
Package recurring expands standing weekly booking templates into
concrete bookings, one month at a time.

PURPOSE:
  An administrator gives a member a standing slot ("every Tuesday
  18:00 with mentor X"). Once a month the expansion engine turns every
  active template into real bookings for a target month, respecting
  business rules and ledger state, and records one log row per
  (template, date) attempt.

KEY CONCEPTS IN THIS FILE (types.go):
  - Template: the standing weekly pattern
  - ExpansionLogEntry: append-only per-attempt outcome record
  - Month: an explicit target month (manual re-runs supported)

SEE ALSO:
  - engine.go: The batch algorithm
  - snapshot.go: One-shot precomputed rule/booking state
  - mirror.go: In-memory ledger working set
*/
package recurring

import (
	"context"
	"fmt"
	"time"

	"github.com/forgefit/coin-engine/booking"
	"github.com/forgefit/coin-engine/ledger"
)

// =============================================================================
// TEMPLATE - A standing weekly booking pattern
// =============================================================================

type TemplateID string

// Template is created by an administrator and soft-deactivated (never
// hard-deleted) when the mentor, member, or backing shift disappears.
type Template struct {
	ID            TemplateID
	UserID        ledger.UserID
	ProviderID    booking.ProviderID
	SessionTypeID booking.SessionTypeID
	Weekday       time.Weekday
	StartMinute   booking.MinuteOfDay
	EndMinute     booking.MinuteOfDay
	IsActive      bool
	CreatedAt     time.Time
	DeactivatedAt *time.Time
}

// =============================================================================
// EXPANSION LOG - One row per (template, date) attempt
// =============================================================================

type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Skip reasons written to the expansion log. The existing-booking skip
// writes NO row: it marks a prior successful run, not a decision.
const (
	SkipProviderInactive    = "provider_inactive"
	SkipUserInactive        = "user_inactive"
	SkipBusinessClosed      = "business_closed"
	SkipSlotBlocked         = "slot_blocked"
	SkipNoShiftCoverage     = "no_shift_coverage"
	SkipSlotTaken           = "slot_taken"
	SkipInsufficientBalance = "insufficient_balance"
)

// ExpansionLogEntry is append-only, written once per attempt.
type ExpansionLogEntry struct {
	ID         string
	TemplateID TemplateID
	TargetDate time.Time
	Outcome    Outcome
	Reason     string
	CreatedAt  time.Time
}

// =============================================================================
// MONTH - Explicit batch target
// =============================================================================

// Month identifies a calendar month. The batch always takes one
// explicitly - never an implicit "next month" - so manual re-runs for
// any month are possible.
type Month struct {
	Year  int
	Month time.Month
}

// ParseMonth parses "2026-10".
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q (want YYYY-MM): %w", s, err)
	}
	return Month{Year: t.Year(), Month: t.Month()}, nil
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Start returns midnight UTC on the 1st.
func (m Month) Start() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns midnight UTC on the 1st of the next month (exclusive).
func (m Month) End() time.Time {
	return m.Start().AddDate(0, 1, 0)
}

// Next returns the following month.
func (m Month) Next() Month {
	t := m.Start().AddDate(0, 1, 0)
	return Month{Year: t.Year(), Month: t.Month()}
}

// DatesByWeekday returns every calendar date of the month keyed by its
// weekday. Computed once per run.
func (m Month) DatesByWeekday() map[time.Weekday][]time.Time {
	out := make(map[time.Weekday][]time.Time, 7)
	for d := m.Start(); d.Before(m.End()); d = d.AddDate(0, 0, 1) {
		out[d.Weekday()] = append(out[d.Weekday()], d)
	}
	return out
}

// =============================================================================
// STORES
// =============================================================================

// TemplateStore persists recurring templates.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, t Template) error
	GetTemplate(ctx context.Context, id TemplateID) (Template, error)
	ActiveTemplates(ctx context.Context) ([]Template, error)
	// DeactivateTemplate soft-deletes: IsActive false, DeactivatedAt set.
	DeactivateTemplate(ctx context.Context, id TemplateID, at time.Time) error
}

// ExpansionLog persists per-attempt outcomes. Append-only.
type ExpansionLog interface {
	AppendExpansion(ctx context.Context, e ExpansionLogEntry) error
	ExpansionsInRange(ctx context.Context, from, to time.Time) ([]ExpansionLogEntry, error)
}
