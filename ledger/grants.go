/*
grants.go - Issuing coin grants and expiring stale ones

PURPOSE:
  Creates ledger entries for the four grant sources (purchase, bonus,
  admin adjustment, check-in reward) and runs the expiry sweep that
  flips stale entries to expired status.

GRANTS:
  Every grant creates one entry with its own expiry and writes one
  audit row. If the audit write fails the entry is voided: the audit
  rule applies to issuance just like to spends.

EXPIRY:
  The sweep is bookkeeping only. Balance calculation filters expired
  entries lazily by ExpiresAt, so correctness never depends on the
  sweep having run - it exists so reporting shows "expired" status and
  the forfeited remainder lands in the audit trail exactly once.

SEE ALSO:
  - balance.go: Lazy expiry filtering at read time
  - api/scheduler.go: Drives the sweep on its monthly ticks
*/
package ledger

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// GRANT SERVICE
// =============================================================================

// GrantRequest describes one grant to issue.
type GrantRequest struct {
	UserID     UserID
	Amount     int64
	SourceType SourceType
	// ExpiresAt overrides the default expiry when non-zero.
	ExpiresAt time.Time
	// CashPaid is the money paid, for purchase grants.
	CashPaid   decimal.Decimal
	Reason     string
	ExecutedBy string
}

// GrantService issues entries and runs the expiry sweep.
type GrantService struct {
	Entries EntryStore
	Balance *BalanceCalculator
	Log     TransactionLog
	Now     Clock

	// DefaultExpiryDays applies when GrantRequest.ExpiresAt is zero.
	// Wired from the coin_expiry_days setting.
	DefaultExpiryDays int
}

func NewGrantService(entries EntryStore, txlog TransactionLog, defaultExpiryDays int) *GrantService {
	return &GrantService{
		Entries:           entries,
		Balance:           NewBalanceCalculator(entries),
		Log:               txlog,
		Now:               SystemClock,
		DefaultExpiryDays: defaultExpiryDays,
	}
}

// Grant issues one coin grant and writes its audit row.
func (g *GrantService) Grant(ctx context.Context, req GrantRequest) (LedgerEntry, error) {
	if req.Amount <= 0 {
		return LedgerEntry{}, &ValidationError{Code: "amount_not_positive",
			Message: fmt.Sprintf("grant amount must be positive, got %d", req.Amount)}
	}
	if req.UserID == "" {
		return LedgerEntry{}, &ValidationError{Code: "missing_user", Message: "grant requires a user"}
	}

	now := g.Now()
	expiresAt := req.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.AddDate(0, 0, g.DefaultExpiryDays)
	}
	if !expiresAt.After(now) {
		return LedgerEntry{}, &ValidationError{Code: "expiry_in_past", Message: "grant would be expired on arrival"}
	}

	entry := LedgerEntry{
		ID:            EntryID(uuid.NewString()),
		UserID:        req.UserID,
		AmountInitial: req.Amount,
		AmountCurrent: req.Amount,
		AmountLocked:  0,
		ExpiresAt:     expiresAt,
		Status:        EntryActive,
		SourceType:    req.SourceType,
		GrantedAt:     now,
		CashPaid:      req.CashPaid,
	}

	if err := g.Entries.CreateEntry(ctx, entry); err != nil {
		return LedgerEntry{}, fmt.Errorf("%w: creating grant: %v", ErrDependencyUnavailable, err)
	}

	balanceAfter, err := g.Balance.AvailableBalance(ctx, req.UserID, now)
	if err == nil {
		err = g.Log.Append(ctx, TransactionLogEntry{
			ID:           uuid.NewString(),
			UserID:       req.UserID,
			Amount:       req.Amount,
			BalanceAfter: balanceAfter,
			Type:         TxGrant,
			EntryID:      entry.ID,
			Reason:       req.Reason,
			ExecutedBy:   req.ExecutedBy,
			CreatedAt:    now,
		})
	}
	if err != nil {
		// No audit row, no grant. Voiding the entry is the compensation.
		if voidErr := g.Entries.SetStatus(ctx, entry.ID, EntryVoid); voidErr != nil {
			logIntegrity("failed to void unaudited grant %s: %v", entry.ID, voidErr)
		}
		return LedgerEntry{}, fmt.Errorf("%w: %v", ErrAuditWriteFailure, err)
	}

	return entry, nil
}

// =============================================================================
// EXPIRY SWEEP
// =============================================================================

// ExpireSweep transitions entries past their expiry to expired status
// and logs the forfeited remainder. Idempotent: already-expired
// entries are not re-processed (ExpirableEntries only returns active
// ones). Per-entry failures are logged and skipped so one bad row
// doesn't block the sweep.
func (g *GrantService) ExpireSweep(ctx context.Context) (int, error) {
	now := g.Now()
	stale, err := g.Entries.ExpirableEntries(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("%w: listing expirable entries: %v", ErrDependencyUnavailable, err)
	}

	expired := 0
	for _, e := range stale {
		if err := g.Entries.SetStatus(ctx, e.ID, EntryExpired); err != nil {
			log.Printf("[Ledger] expiry sweep: entry %s: %v", e.ID, err)
			continue
		}
		if e.AmountCurrent > 0 {
			balanceAfter, balErr := g.Balance.AvailableBalance(ctx, e.UserID, now)
			if balErr != nil {
				log.Printf("[Ledger] expiry sweep: balance for %s: %v", e.UserID, balErr)
				balanceAfter = 0
			}
			logErr := g.Log.Append(ctx, TransactionLogEntry{
				ID:           uuid.NewString(),
				UserID:       e.UserID,
				Amount:       -e.AmountCurrent,
				BalanceAfter: balanceAfter,
				Type:         TxExpire,
				EntryID:      e.ID,
				Reason:       fmt.Sprintf("grant expired on %s", e.ExpiresAt.Format("2006-01-02")),
				ExecutedBy:   "system",
				CreatedAt:    now,
			})
			if logErr != nil {
				log.Printf("[Ledger] expiry sweep: audit row for entry %s: %v", e.ID, logErr)
			}
		}
		expired++
	}
	return expired, nil
}
