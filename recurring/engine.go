/*
engine.go - The monthly expansion batch

PURPOSE:
  For every active template and every date of the target month
  matching its weekday: validate against the precomputed snapshot and
  the ledger mirror, then materialize a booking (session + reservation
  + ledger lock + audit row) or record why not.

SKIP CHAIN (evaluated in order, one log row per skip):
  mentor inactive -> member inactive -> business closed (regular or
  ad hoc, or window not covering) -> slot blocked -> no shift covers
  -> booking already exists for this member at this exact timestamp
  (SILENT skip: a prior successful run, not a decision) -> slot
  already claimed by this run or a conflicting reservation ->
  insufficient mirrored balance.

PARTIAL FAILURE:
  Any unexpected error while processing a single (template, date) pair
  is caught, recorded as failed with the error text, and the batch
  moves on. One bad template must not block the other 99.

DIRECT CREATION:
  The batch creates session and reservation records directly instead
  of going through the full orchestrator: it is single-threaded and
  holds its own exclusion set, so the orchestrator's conflict-retry
  machinery would only add queries. The reservation uniqueness
  constraint still backstops races against live requests.

SEE ALSO:
  - snapshot.go / mirror.go: The precomputed working state
  - booking/orchestrator.go: The interactive counterpart
*/
package recurring

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/forgefit/coin-engine/booking"
	"github.com/forgefit/coin-engine/ledger"
	"github.com/forgefit/coin-engine/notify"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Templates TemplateStore
	ExpLog    ExpansionLog
	Bookings  booking.Store
	Refs      booking.ReferenceStore
	Directory booking.Directory
	Entries   ledger.EntryStore
	TxLog     ledger.TransactionLog
	Notifier  notify.Dispatcher
	Now       ledger.Clock
}

// Report summarizes one expansion run.
type Report struct {
	Month   Month
	Created int
	Skipped int
	Failed  []FailedAttempt
}

// FailedAttempt is one (template, date) pair that errored.
type FailedAttempt struct {
	TemplateID TemplateID
	Date       time.Time
	Reason     string
}

// Run expands every active template for the target month. Per-pair
// failures are tolerated; a non-nil error means the run could not
// start at all (template load or snapshot precomputation failed).
func (e *Engine) Run(ctx context.Context, month Month) (Report, error) {
	report := Report{Month: month}

	templates, err := e.Templates.ActiveTemplates(ctx)
	if err != nil {
		return report, fmt.Errorf("loading templates: %w", err)
	}
	if len(templates) == 0 {
		log.Printf("[Recurring] %s: no active templates", month)
		return report, nil
	}

	snap, err := e.buildSnapshot(ctx, month, templates)
	if err != nil {
		return report, fmt.Errorf("precomputing snapshot: %w", err)
	}

	for _, tmpl := range templates {
		for _, date := range snap.datesByWeekday[tmpl.Weekday] {
			e.expandOne(ctx, snap, tmpl, date, &report)
		}
	}

	log.Printf("[Recurring] %s: %d created, %d skipped, %d failed",
		month, report.Created, report.Skipped, len(report.Failed))

	notify.FireAndForget(e.Notifier, notify.Event{
		Type:  notify.EventExpansionDone,
		Title: fmt.Sprintf("Expansion %s complete", month),
		Body:  fmt.Sprintf("%d created, %d skipped, %d failed", report.Created, report.Skipped, len(report.Failed)),
	})
	return report, nil
}

// expandOne processes a single (template, date) pair, absorbing panics
// and errors into the report.
func (e *Engine) expandOne(ctx context.Context, snap *runSnapshot, tmpl Template, date time.Time, report *Report) {
	defer func() {
		if r := recover(); r != nil {
			e.recordFailed(ctx, tmpl, date, fmt.Sprintf("panic: %v", r), report)
		}
	}()

	outcome, reason, err := e.tryExpand(ctx, snap, tmpl, date)
	switch {
	case err != nil:
		e.recordFailed(ctx, tmpl, date, err.Error(), report)
	case outcome == OutcomeCreated:
		report.Created++
		e.appendLog(ctx, tmpl, date, OutcomeCreated, "")
	case outcome == OutcomeSkipped:
		report.Skipped++
		if reason != "" { // the existing-booking skip logs nothing
			e.appendLog(ctx, tmpl, date, OutcomeSkipped, reason)
		}
	}
}

// tryExpand evaluates the skip chain and, when everything passes,
// materializes the booking. Returns (outcome, skip reason, error).
func (e *Engine) tryExpand(ctx context.Context, snap *runSnapshot, tmpl Template, date time.Time) (Outcome, string, error) {
	startsAt := tmpl.StartMinute.At(date)

	provider, ok := snap.providers[tmpl.ProviderID]
	if !ok || !provider.Active {
		return OutcomeSkipped, SkipProviderInactive, nil
	}
	member, ok := snap.members[tmpl.UserID]
	if !ok || !member.Active {
		return OutcomeSkipped, SkipUserInactive, nil
	}
	if snap.businessClosed(date, tmpl.StartMinute, tmpl.EndMinute) {
		return OutcomeSkipped, SkipBusinessClosed, nil
	}
	if snap.slotBlocked(tmpl.ProviderID, date, tmpl.StartMinute, tmpl.EndMinute) {
		return OutcomeSkipped, SkipSlotBlocked, nil
	}
	if !snap.shiftCovers(tmpl.ProviderID, date.Weekday(), tmpl.StartMinute, tmpl.EndMinute) {
		return OutcomeSkipped, SkipNoShiftCoverage, nil
	}
	if snap.userSlots[userSlotKey{UserID: tmpl.UserID, At: startsAt}] {
		// A booking already exists for this member at this exact
		// timestamp - a prior run (or the member) already holds the
		// slot. Silent: no log row.
		return OutcomeSkipped, "", nil
	}
	if snap.providerSlots[providerSlotKey{ProviderID: tmpl.ProviderID, At: startsAt}] {
		return OutcomeSkipped, SkipSlotTaken, nil
	}

	sessionType, ok := snap.sessionTypes[tmpl.SessionTypeID]
	if !ok {
		return OutcomeFailed, "", fmt.Errorf("unknown session type %s", tmpl.SessionTypeID)
	}
	if snap.mirror.Available(tmpl.UserID) < sessionType.CoinCost {
		return OutcomeSkipped, SkipInsufficientBalance, nil
	}

	if err := e.materialize(ctx, snap, tmpl, sessionType, startsAt); err != nil {
		if errors.Is(err, ledger.ErrUniquenessConflict) {
			// A live request beat the batch to the slot.
			return OutcomeSkipped, SkipSlotTaken, nil
		}
		return OutcomeFailed, "", err
	}
	snap.claim(tmpl.UserID, tmpl.ProviderID, startsAt)
	return OutcomeCreated, "", nil
}

// materialize creates the booking records, locks coins through the
// mirror, and writes the audit row, compensating applied steps on
// failure - the per-pair version of the orchestrator's saga.
func (e *Engine) materialize(ctx context.Context, snap *runSnapshot, tmpl Template, sessionType booking.SessionType, startsAt time.Time) error {
	now := e.Now()
	b := booking.Booking{
		ID:            ledger.BookingID(uuid.NewString()),
		UserID:        tmpl.UserID,
		ProviderID:    tmpl.ProviderID,
		SessionTypeID: tmpl.SessionTypeID,
		StartsAt:      startsAt,
		EndsAt:        tmpl.EndMinute.At(startsAt),
		Status:        booking.StatusConfirmed,
		CoinsUsed:     sessionType.CoinCost,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := e.Bookings.CreateBooking(ctx, b); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	res := booking.Reservation{
		ID:         uuid.NewString(),
		BookingID:  b.ID,
		ProviderID: tmpl.ProviderID,
		StartsAt:   startsAt,
		CreatedAt:  now,
	}
	if err := e.Bookings.CreateReservation(ctx, res); err != nil {
		if delErr := e.Bookings.DeleteBooking(ctx, b.ID); delErr != nil {
			log.Printf("[Recurring] compensation delete of %s failed: %v", b.ID, delErr)
		}
		return err
	}

	deltas, err := snap.mirror.Lock(ctx, tmpl.UserID, sessionType.CoinCost)
	if err != nil {
		e.deleteRecords(ctx, b.ID)
		return err
	}

	if err := e.TxLog.Append(ctx, ledger.TransactionLogEntry{
		ID:           uuid.NewString(),
		UserID:       tmpl.UserID,
		Amount:       -sessionType.CoinCost,
		BalanceAfter: snap.mirror.Available(tmpl.UserID),
		Type:         ledger.TxLock,
		BookingID:    b.ID,
		Reason:       fmt.Sprintf("recurring booking from template %s", tmpl.ID),
		ExecutedBy:   "system",
		CreatedAt:    now,
	}); err != nil {
		// No audit row, no booking: reverse the lock and the records.
		snap.mirror.Rollback(ctx, tmpl.UserID, deltas)
		e.deleteRecords(ctx, b.ID)
		return fmt.Errorf("%w: %v", ledger.ErrAuditWriteFailure, err)
	}

	return nil
}

func (e *Engine) deleteRecords(ctx context.Context, id ledger.BookingID) {
	if err := e.Bookings.DeleteReservationForBooking(ctx, id); err != nil {
		log.Printf("[Recurring] compensation: reservation of %s: %v", id, err)
	}
	if err := e.Bookings.DeleteBooking(ctx, id); err != nil {
		log.Printf("[Recurring] compensation: session %s: %v", id, err)
	}
}

func (e *Engine) recordFailed(ctx context.Context, tmpl Template, date time.Time, reason string, report *Report) {
	report.Failed = append(report.Failed, FailedAttempt{TemplateID: tmpl.ID, Date: date, Reason: reason})
	log.Printf("[Recurring] template %s on %s failed: %s", tmpl.ID, date.Format("2006-01-02"), reason)
	e.appendLog(ctx, tmpl, date, OutcomeFailed, reason)
}

func (e *Engine) appendLog(ctx context.Context, tmpl Template, date time.Time, outcome Outcome, reason string) {
	err := e.ExpLog.AppendExpansion(ctx, ExpansionLogEntry{
		ID:         uuid.NewString(),
		TemplateID: tmpl.ID,
		TargetDate: date,
		Outcome:    outcome,
		Reason:     reason,
		CreatedAt:  e.Now(),
	})
	if err != nil {
		log.Printf("[Recurring] expansion log append failed for %s/%s: %v", tmpl.ID, date.Format("2006-01-02"), err)
	}
}
