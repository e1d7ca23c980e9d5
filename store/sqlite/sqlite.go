/*
Package sqlite provides the SQLite-backed implementation of every
storage interface in the system.

PURPOSE:
  One Store struct implements all persistence: ledger entries and the
  transaction log, bookings and reservations, reference data (business
  hours, closures, shifts, blocked slots), the member/mentor directory,
  recurring templates and the expansion log, exchange items and
  requests, and runtime settings. In production the same SQL moves to
  PostgreSQL with minor dialect changes.

INTERFACES IMPLEMENTED:
  ledger.EntryStore       ledger entries with CAS-guarded updates (ledger.go)
  ledger.TransactionLog   append-only audit rows (ledger.go)
  booking.Store           bookings + reservations (booking.go)
  booking.ReferenceStore  rule data (booking.go)
  booking.Directory       members and mentors (booking.go)
  recurring.TemplateStore recurring templates (recurring.go)
  recurring.ExpansionLog  expansion attempt rows (recurring.go)
  exchange.Store          items and requests (exchange.go)
  config.SettingsStore    key/value settings (settings.go)

OPTIMISTIC CONCURRENCY:
  Entry amount mutation is a single conditional UPDATE guarded on the
  amounts the caller read. Zero rows affected means another writer got
  there first and maps to ledger.ErrConcurrentModification.

UNIQUENESS:
  idx_reservations_slot (provider_id, starts_at) is the sole authority
  preventing double-booking. Constraint violations map to
  ledger.ErrUniquenessConflict.

APPEND-ONLY ENFORCEMENT:
  coin_transactions and expansion_log have no UPDATE and no DELETE
  statements anywhere in this package. Corrections are new rows.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): readers don't block,
  a single writer at a time, better crash recovery.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go, booking/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time, and every ":memory:" connection
	// is a distinct database. One pooled connection covers both.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Ledger entries (grants); amounts mutated only via CAS update
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount_initial INTEGER NOT NULL,
		amount_current INTEGER NOT NULL,
		amount_locked INTEGER NOT NULL DEFAULT 0,
		expires_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		source_type TEXT NOT NULL,
		granted_at TEXT NOT NULL,
		cash_paid TEXT NOT NULL DEFAULT '0'
	);

	CREATE INDEX IF NOT EXISTS idx_entries_user
		ON ledger_entries(user_id, status);
	-- Expiry sweep scan
	CREATE INDEX IF NOT EXISTS idx_entries_expires
		ON ledger_entries(status, expires_at);

	-- Coin transactions (append-only audit ledger)
	CREATE TABLE IF NOT EXISTS coin_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		tx_type TEXT NOT NULL,
		booking_id TEXT,
		entry_id TEXT,
		reason TEXT,
		executed_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user
		ON coin_transactions(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_booking
		ON coin_transactions(booking_id) WHERE booking_id IS NOT NULL;

	-- Bookings (rows are never deleted after a completed saga;
	-- cancellation flips status)
	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		session_type_id TEXT NOT NULL,
		starts_at TEXT NOT NULL,
		ends_at TEXT NOT NULL,
		status TEXT NOT NULL,
		coins_used INTEGER NOT NULL,
		cancel_reason TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_user
		ON bookings(user_id, starts_at DESC);
	CREATE INDEX IF NOT EXISTS idx_bookings_range
		ON bookings(starts_at);

	-- Reservations: the slot claims. The unique index is the single
	-- source of truth for double-booking prevention.
	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		starts_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_slot
		ON reservations(provider_id, starts_at);
	CREATE INDEX IF NOT EXISTS idx_reservations_booking
		ON reservations(booking_id);

	-- Session types (price list)
	CREATE TABLE IF NOT EXISTS session_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		coin_cost INTEGER NOT NULL,
		duration_minutes INTEGER NOT NULL
	);

	-- Weekly business hours, one row per weekday
	CREATE TABLE IF NOT EXISTS business_hours (
		weekday INTEGER PRIMARY KEY,
		open_minute INTEGER NOT NULL,
		close_minute INTEGER NOT NULL,
		closed BOOLEAN NOT NULL DEFAULT FALSE
	);

	-- Ad hoc closure dates
	CREATE TABLE IF NOT EXISTS closures (
		date TEXT PRIMARY KEY,
		reason TEXT
	);

	-- Mentor weekly shifts
	CREATE TABLE IF NOT EXISTS shifts (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL,
		weekday INTEGER NOT NULL,
		start_minute INTEGER NOT NULL,
		end_minute INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_shifts_provider
		ON shifts(provider_id, weekday);

	-- Blocked slots (empty provider_id blocks the whole gym)
	CREATE TABLE IF NOT EXISTS blocked_slots (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		all_day BOOLEAN NOT NULL DEFAULT FALSE,
		start_minute INTEGER NOT NULL DEFAULT 0,
		end_minute INTEGER NOT NULL DEFAULT 0,
		reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_blocked_date
		ON blocked_slots(date);

	-- Members and mentors
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS providers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	-- Recurring templates (soft-deactivated, never deleted)
	CREATE TABLE IF NOT EXISTS recurring_templates (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		session_type_id TEXT NOT NULL,
		weekday INTEGER NOT NULL,
		start_minute INTEGER NOT NULL,
		end_minute INTEGER NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		deactivated_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_templates_active
		ON recurring_templates(is_active);

	-- Expansion log (append-only, one row per attempt)
	CREATE TABLE IF NOT EXISTS expansion_log (
		id TEXT PRIMARY KEY,
		template_id TEXT NOT NULL,
		target_date TEXT NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_expansion_date
		ON expansion_log(target_date);

	-- Exchange items and requests
	CREATE TABLE IF NOT EXISTS exchange_items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		coin_cost INTEGER NOT NULL,
		cash_value TEXT NOT NULL DEFAULT '0',
		stock INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS exchange_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		coin_cost INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_exchange_user
		ON exchange_requests(user_id, created_at DESC);

	-- Runtime settings
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func nowUTC() time.Time { return time.Now().UTC() }

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

// formatDate stores calendar dates without a time component.
func formatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func parseDate(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
