/*
ledger.go - ledger.EntryStore and ledger.TransactionLog on SQLite

THE CAS UPDATE:
  UpdateAmounts issues one conditional UPDATE whose WHERE clause pins
  the amounts the caller read. RowsAffected == 0 means either the entry
  vanished or a concurrent writer changed the amounts; a follow-up
  existence check disambiguates.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/forgefit/coin-engine/ledger"
)

// =============================================================================
// ENTRY STORE (ledger.EntryStore)
// =============================================================================

// CreateEntry persists a new grant.
func (s *Store) CreateEntry(ctx context.Context, e ledger.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO ledger_entries
		(id, user_id, amount_initial, amount_current, amount_locked,
		 expires_at, status, source_type, granted_at, cash_paid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.UserID, e.AmountInitial, e.AmountCurrent, e.AmountLocked,
		formatTime(e.ExpiresAt), e.Status, e.SourceType,
		formatTime(e.GrantedAt), e.CashPaid.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}
	return nil
}

// GetEntry returns one entry by ID.
func (s *Store) GetEntry(ctx context.Context, id ledger.EntryID) (ledger.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, amount_initial, amount_current, amount_locked,
		       expires_at, status, source_type, granted_at, cash_paid
		FROM ledger_entries WHERE id = ?
	`, id)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return ledger.LedgerEntry{}, fmt.Errorf("%w: entry %s", ledger.ErrEntryNotFound, id)
	}
	return e, err
}

// EntriesByUser returns all of a user's entries in no guaranteed order.
func (s *Store) EntriesByUser(ctx context.Context, userID ledger.UserID) ([]ledger.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount_initial, amount_current, amount_locked,
		       expires_at, status, source_type, granted_at, cash_paid
		FROM ledger_entries WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateAmounts conditionally writes new amounts. The guard on the
// expected values is what makes concurrent lock attempts safe.
func (s *Store) UpdateAmounts(ctx context.Context, id ledger.EntryID, expectCurrent, expectLocked, newCurrent, newLocked int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE ledger_entries
		SET amount_current = ?, amount_locked = ?
		WHERE id = ? AND amount_current = ? AND amount_locked = ?
	`, newCurrent, newLocked, id, expectCurrent, expectLocked)
	if err != nil {
		return fmt.Errorf("failed to update entry amounts: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM ledger_entries WHERE id = ?", id,
		).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("%w: entry %s", ledger.ErrEntryNotFound, id)
		}
		return &ledger.ConflictError{EntryID: id, Op: "update_amounts"}
	}
	return nil
}

// SetStatus transitions an entry's status.
func (s *Store) SetStatus(ctx context.Context, id ledger.EntryID, status ledger.EntryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE ledger_entries SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to set entry status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: entry %s", ledger.ErrEntryNotFound, id)
	}
	return nil
}

// ExpirableEntries returns active entries past their expiry instant.
func (s *Store) ExpirableEntries(ctx context.Context, asOf time.Time) ([]ledger.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount_initial, amount_current, amount_locked,
		       expires_at, status, source_type, granted_at, cash_paid
		FROM ledger_entries
		WHERE status = 'active' AND expires_at <= ?
		ORDER BY expires_at ASC
	`, formatTime(asOf))
	if err != nil {
		return nil, fmt.Errorf("failed to query expirable entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (ledger.LedgerEntry, error) {
	var (
		e                    ledger.LedgerEntry
		expiresAt, grantedAt string
		cashPaid             string
	)

	err := row.Scan(&e.ID, &e.UserID, &e.AmountInitial, &e.AmountCurrent,
		&e.AmountLocked, &expiresAt, &e.Status, &e.SourceType, &grantedAt, &cashPaid)
	if err != nil {
		return e, err
	}

	e.ExpiresAt = parseTime(expiresAt)
	e.GrantedAt = parseTime(grantedAt)
	e.CashPaid, err = decimal.NewFromString(cashPaid)
	if err != nil {
		return e, fmt.Errorf("entry %s holds bad cash_paid %q: %w", e.ID, cashPaid, err)
	}
	return e, nil
}

// =============================================================================
// TRANSACTION LOG (ledger.TransactionLog)
// =============================================================================

// Append adds one audit row. There is no update or delete path for
// coin_transactions anywhere in this package.
func (s *Store) Append(ctx context.Context, t ledger.TransactionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO coin_transactions
		(id, user_id, amount, balance_after, tx_type, booking_id, entry_id,
		 reason, executed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.UserID, t.Amount, t.BalanceAfter, t.Type,
		nullString(string(t.BookingID)), nullString(string(t.EntryID)),
		t.Reason, t.ExecutedBy, formatTime(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// ListByUser returns a user's transactions, newest first.
func (s *Store) ListByUser(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.TransactionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, user_id, amount, balance_after, tx_type, booking_id,
		       entry_id, reason, executed_by, created_at
		FROM coin_transactions
		WHERE user_id = ?
		ORDER BY created_at DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return s.queryTransactions(ctx, query, args...)
}

// ListByBooking returns transactions tied to one booking or exchange.
func (s *Store) ListByBooking(ctx context.Context, bookingID ledger.BookingID) ([]ledger.TransactionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryTransactions(ctx, `
		SELECT id, user_id, amount, balance_after, tx_type, booking_id,
		       entry_id, reason, executed_by, created_at
		FROM coin_transactions
		WHERE booking_id = ?
		ORDER BY created_at ASC
	`, bookingID)
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.TransactionLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.TransactionLogEntry
	for rows.Next() {
		var (
			t                    ledger.TransactionLogEntry
			bookingID, entryID   sql.NullString
			reason               sql.NullString
			createdAt            string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.BalanceAfter,
			&t.Type, &bookingID, &entryID, &reason, &t.ExecutedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.BookingID = ledger.BookingID(bookingID.String)
		t.EntryID = ledger.EntryID(entryID.String)
		t.Reason = reason.String
		t.CreatedAt = parseTime(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}
