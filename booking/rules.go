/*
rules.go - Slot validation against business rules

PURPOSE:
  Pure pre-mutation checks for a booking attempt: member and mentor
  active, inside business hours, not a closure date, mentor shift
  covers the slot, slot not blocked. Fail fast with a typed reason.

ADVISORY ONLY:
  These checks run before any mutation and make the common failure
  cases cheap and well-explained. They do NOT guarantee the slot is
  free - only the reservation uniqueness constraint does that, because
  two requests can pass the same pre-checks concurrently.

SEE ALSO:
  - orchestrator.go: Runs Validate as saga step 1
  - recurring/snapshot.go: Evaluates the same rules from precomputed maps
*/
package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/forgefit/coin-engine/ledger"
)

// Validation codes surfaced to clients.
const (
	ReasonProviderInactive = "provider_inactive"
	ReasonUserInactive     = "user_inactive"
	ReasonOutsideHours     = "outside_business_hours"
	ReasonClosureDate      = "closure_date"
	ReasonSlotBlocked      = "slot_blocked"
	ReasonNoShiftCoverage  = "no_shift_coverage"
	ReasonPastSlot         = "slot_in_past"
)

// Validator runs the advisory pre-checks.
type Validator struct {
	Refs      ReferenceStore
	Directory Directory
}

// ValidateSlot checks one (member, mentor, slot) combination.
// Returns a *ledger.ValidationError with a stable reason code on the
// first failed check, in the same order the recurring batch evaluates.
func (v *Validator) ValidateSlot(ctx context.Context, userID ledger.UserID, providerID ProviderID, startsAt, endsAt time.Time) error {
	if !endsAt.After(startsAt) {
		return &ledger.ValidationError{Code: "invalid_slot", Message: "end must be after start"}
	}

	provider, err := v.Directory.GetProvider(ctx, providerID)
	if err != nil {
		return fmt.Errorf("looking up mentor %s: %w", providerID, err)
	}
	if !provider.Active {
		return &ledger.ValidationError{Code: ReasonProviderInactive,
			Message: fmt.Sprintf("mentor %s is not active", providerID)}
	}

	member, err := v.Directory.GetMember(ctx, userID)
	if err != nil {
		return fmt.Errorf("looking up member %s: %w", userID, err)
	}
	if !member.Active {
		return &ledger.ValidationError{Code: ReasonUserInactive,
			Message: fmt.Sprintf("member %s is not active", userID)}
	}

	start, end := MinuteOf(startsAt), MinuteOf(endsAt)

	hours, err := v.Refs.HoursFor(ctx, startsAt.Weekday())
	if err != nil {
		return fmt.Errorf("loading business hours: %w", err)
	}
	if !hours.Covers(start, end) {
		return &ledger.ValidationError{Code: ReasonOutsideHours,
			Message: fmt.Sprintf("slot %s-%s is outside business hours", start, end)}
	}

	closed, err := v.Refs.IsClosure(ctx, DateKey(startsAt))
	if err != nil {
		return fmt.Errorf("checking closures: %w", err)
	}
	if closed {
		return &ledger.ValidationError{Code: ReasonClosureDate,
			Message: fmt.Sprintf("gym is closed on %s", startsAt.Format("2006-01-02"))}
	}

	blocked, err := v.Refs.BlockedFor(ctx, providerID, DateKey(startsAt))
	if err != nil {
		return fmt.Errorf("checking blocked slots: %w", err)
	}
	for _, b := range blocked {
		if b.Blocks(providerID, start, end) {
			return &ledger.ValidationError{Code: ReasonSlotBlocked,
				Message: fmt.Sprintf("slot is blocked: %s", b.Reason)}
		}
	}

	shifts, err := v.Refs.ShiftsFor(ctx, providerID, startsAt.Weekday())
	if err != nil {
		return fmt.Errorf("loading shifts: %w", err)
	}
	if !AnyShiftCovers(shifts, start, end) {
		return &ledger.ValidationError{Code: ReasonNoShiftCoverage,
			Message: fmt.Sprintf("no shift of mentor %s covers %s-%s", providerID, start, end)}
	}

	return nil
}

// AnyShiftCovers reports whether one of the windows covers [start, end).
// Shared with the recurring batch, which evaluates precomputed shifts.
func AnyShiftCovers(shifts []ShiftWindow, start, end MinuteOfDay) bool {
	for _, s := range shifts {
		if s.Covers(start, end) {
			return true
		}
	}
	return false
}
