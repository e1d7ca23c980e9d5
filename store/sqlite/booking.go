/*
booking.go - booking.Store, booking.ReferenceStore and booking.Directory
on SQLite

THE RESERVATION INDEX:
  idx_reservations_slot makes (provider_id, starts_at) unique. A
  violated insert maps to ledger.ErrUniquenessConflict, which the saga
  treats as "slot already taken" and unwinds.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/forgefit/coin-engine/booking"
	"github.com/forgefit/coin-engine/ledger"
)

// =============================================================================
// BOOKING STORE (booking.Store)
// =============================================================================

// CreateBooking inserts the session record.
func (s *Store) CreateBooking(ctx context.Context, b booking.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO bookings
		(id, user_id, provider_id, session_type_id, starts_at, ends_at,
		 status, coins_used, cancel_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		b.ID, b.UserID, b.ProviderID, b.SessionTypeID,
		formatTime(b.StartsAt), formatTime(b.EndsAt),
		b.Status, b.CoinsUsed, nullString(b.CancelReason),
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

// DeleteBooking removes a session record. Compensation only.
func (s *Store) DeleteBooking(ctx context.Context, id ledger.BookingID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM bookings WHERE id = ?", id)
	return err
}

// GetBooking returns one booking by ID.
func (s *Store) GetBooking(ctx context.Context, id ledger.BookingID) (booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, provider_id, session_type_id, starts_at, ends_at,
		       status, coins_used, cancel_reason, created_at, updated_at
		FROM bookings WHERE id = ?
	`, id)

	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return booking.Booking{}, fmt.Errorf("%w: booking %s", ledger.ErrEntryNotFound, id)
	}
	return b, err
}

// SetBookingStatus transitions a booking's status.
func (s *Store) SetBookingStatus(ctx context.Context, id ledger.BookingID, status booking.Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = ?, cancel_reason = ?, updated_at = ?
		WHERE id = ?
	`, status, nullString(reason), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to set booking status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: booking %s", ledger.ErrEntryNotFound, id)
	}
	return nil
}

// CreateReservation claims the slot. The unique index on
// (provider_id, starts_at) is the sole double-booking authority.
func (s *Store) CreateReservation(ctx context.Context, r booking.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reservations (id, booking_id, provider_id, starts_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, r.ID, r.BookingID, r.ProviderID, formatTime(r.StartsAt), formatTime(r.CreatedAt))

	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: slot %s @ %s", ledger.ErrUniquenessConflict,
				r.ProviderID, r.StartsAt.Format(time.RFC3339))
		}
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

// DeleteReservationForBooking releases a booking's slot claim.
func (s *Store) DeleteReservationForBooking(ctx context.Context, bookingID ledger.BookingID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM reservations WHERE booking_id = ?", bookingID)
	return err
}

// BookingsForUsersInRange returns non-cancelled bookings for the given
// users with StartsAt in [from, to).
func (s *Store) BookingsForUsersInRange(ctx context.Context, userIDs []ledger.UserID, from, to time.Time) ([]booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(userIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(userIDs))
	placeholders = placeholders[:len(placeholders)-1]

	query := fmt.Sprintf(`
		SELECT id, user_id, provider_id, session_type_id, starts_at, ends_at,
		       status, coins_used, cancel_reason, created_at, updated_at
		FROM bookings
		WHERE user_id IN (%s)
		  AND status != 'cancelled'
		  AND starts_at >= ? AND starts_at < ?
		ORDER BY starts_at ASC
	`, placeholders)

	args := make([]any, 0, len(userIDs)+2)
	for _, id := range userIDs {
		args = append(args, id)
	}
	args = append(args, formatTime(from), formatTime(to))

	return s.queryBookings(ctx, query, args...)
}

// ListBookingsByUser returns a user's bookings, newest first.
func (s *Store) ListBookingsByUser(ctx context.Context, userID ledger.UserID, limit int) ([]booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, user_id, provider_id, session_type_id, starts_at, ends_at,
		       status, coins_used, cancel_reason, created_at, updated_at
		FROM bookings
		WHERE user_id = ?
		ORDER BY starts_at DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return s.queryBookings(ctx, query, args...)
}

func (s *Store) queryBookings(ctx context.Context, query string, args ...any) ([]booking.Booking, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var out []booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBooking(row rowScanner) (booking.Booking, error) {
	var (
		b                              booking.Booking
		startsAt, endsAt               string
		cancelReason                   sql.NullString
		createdAt, updatedAt           string
	)

	err := row.Scan(&b.ID, &b.UserID, &b.ProviderID, &b.SessionTypeID,
		&startsAt, &endsAt, &b.Status, &b.CoinsUsed, &cancelReason,
		&createdAt, &updatedAt)
	if err != nil {
		return b, err
	}

	b.StartsAt = parseTime(startsAt)
	b.EndsAt = parseTime(endsAt)
	b.CancelReason = cancelReason.String
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}

// =============================================================================
// REFERENCE STORE (booking.ReferenceStore)
// =============================================================================

// GetSessionType returns one session type by ID.
func (s *Store) GetSessionType(ctx context.Context, id booking.SessionTypeID) (booking.SessionType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st booking.SessionType
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, coin_cost, duration_minutes FROM session_types WHERE id = ?", id,
	).Scan(&st.ID, &st.Name, &st.CoinCost, &st.DurationMinutes)

	if err == sql.ErrNoRows {
		return booking.SessionType{}, fmt.Errorf("%w: session type %s", ledger.ErrEntryNotFound, id)
	}
	return st, err
}

// HoursFor returns the opening window for one weekday. A weekday with
// no row is treated as closed.
func (s *Store) HoursFor(ctx context.Context, weekday time.Weekday) (booking.BusinessHours, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var h booking.BusinessHours
	var wd int
	err := s.db.QueryRowContext(ctx,
		"SELECT weekday, open_minute, close_minute, closed FROM business_hours WHERE weekday = ?",
		int(weekday),
	).Scan(&wd, &h.OpenMinute, &h.CloseMinute, &h.Closed)

	if err == sql.ErrNoRows {
		return booking.BusinessHours{Weekday: weekday, Closed: true}, nil
	}
	if err != nil {
		return booking.BusinessHours{}, err
	}
	h.Weekday = time.Weekday(wd)
	return h, nil
}

// AllHours returns the whole weekly schedule.
func (s *Store) AllHours(ctx context.Context) ([]booking.BusinessHours, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT weekday, open_minute, close_minute, closed FROM business_hours ORDER BY weekday")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.BusinessHours
	for rows.Next() {
		var h booking.BusinessHours
		var wd int
		if err := rows.Scan(&wd, &h.OpenMinute, &h.CloseMinute, &h.Closed); err != nil {
			return nil, err
		}
		h.Weekday = time.Weekday(wd)
		out = append(out, h)
	}
	return out, rows.Err()
}

// SaveHours upserts one weekday's opening window.
func (s *Store) SaveHours(ctx context.Context, h booking.BusinessHours) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO business_hours (weekday, open_minute, close_minute, closed)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(weekday) DO UPDATE SET
			open_minute = excluded.open_minute,
			close_minute = excluded.close_minute,
			closed = excluded.closed
	`, int(h.Weekday), h.OpenMinute, h.CloseMinute, h.Closed)
	return err
}

// IsClosure reports an ad hoc closure on the given calendar date.
func (s *Store) IsClosure(ctx context.Context, date time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM closures WHERE date = ?", formatDate(date),
	).Scan(&count)
	return count > 0, err
}

// ClosuresInRange returns closure dates in [from, to).
func (s *Store) ClosuresInRange(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT date FROM closures WHERE date >= ? AND date < ? ORDER BY date",
		formatDate(from), formatDate(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, parseDate(d))
	}
	return out, rows.Err()
}

// SaveClosure records an ad hoc closure date.
func (s *Store) SaveClosure(ctx context.Context, date time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO closures (date, reason) VALUES (?, ?)
		ON CONFLICT(date) DO UPDATE SET reason = excluded.reason
	`, formatDate(date), reason)
	return err
}

// ShiftsFor returns a mentor's shifts on one weekday.
func (s *Store) ShiftsFor(ctx context.Context, providerID booking.ProviderID, weekday time.Weekday) ([]booking.ShiftWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryShifts(ctx, `
		SELECT id, provider_id, weekday, start_minute, end_minute
		FROM shifts WHERE provider_id = ? AND weekday = ?
	`, providerID, int(weekday))
}

// AllShifts returns every mentor shift.
func (s *Store) AllShifts(ctx context.Context) ([]booking.ShiftWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryShifts(ctx,
		"SELECT id, provider_id, weekday, start_minute, end_minute FROM shifts")
}

// SaveShift upserts one mentor shift.
func (s *Store) SaveShift(ctx context.Context, w booking.ShiftWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shifts (id, provider_id, weekday, start_minute, end_minute)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider_id = excluded.provider_id,
			weekday = excluded.weekday,
			start_minute = excluded.start_minute,
			end_minute = excluded.end_minute
	`, w.ID, w.ProviderID, int(w.Weekday), w.StartMinute, w.EndMinute)
	return err
}

func (s *Store) queryShifts(ctx context.Context, query string, args ...any) ([]booking.ShiftWindow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.ShiftWindow
	for rows.Next() {
		var w booking.ShiftWindow
		var wd int
		if err := rows.Scan(&w.ID, &w.ProviderID, &wd, &w.StartMinute, &w.EndMinute); err != nil {
			return nil, err
		}
		w.Weekday = time.Weekday(wd)
		out = append(out, w)
	}
	return out, rows.Err()
}

// BlockedFor returns blocks affecting one mentor on one date,
// including gym-wide blocks.
func (s *Store) BlockedFor(ctx context.Context, providerID booking.ProviderID, date time.Time) ([]booking.BlockedSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryBlocked(ctx, `
		SELECT id, provider_id, date, all_day, start_minute, end_minute, reason
		FROM blocked_slots
		WHERE date = ? AND (provider_id = ? OR provider_id = '')
	`, formatDate(date), providerID)
}

// BlockedInRange returns all blocks with date in [from, to).
func (s *Store) BlockedInRange(ctx context.Context, from, to time.Time) ([]booking.BlockedSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryBlocked(ctx, `
		SELECT id, provider_id, date, all_day, start_minute, end_minute, reason
		FROM blocked_slots
		WHERE date >= ? AND date < ?
	`, formatDate(from), formatDate(to))
}

// SaveBlockedSlot records a blocked slot.
func (s *Store) SaveBlockedSlot(ctx context.Context, b booking.BlockedSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blocked_slots (id, provider_id, date, all_day, start_minute, end_minute, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.ProviderID, formatDate(b.Date), b.AllDay, b.StartMinute, b.EndMinute, b.Reason)
	return err
}

func (s *Store) queryBlocked(ctx context.Context, query string, args ...any) ([]booking.BlockedSlot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.BlockedSlot
	for rows.Next() {
		var b booking.BlockedSlot
		var date string
		var reason sql.NullString
		if err := rows.Scan(&b.ID, &b.ProviderID, &date, &b.AllDay,
			&b.StartMinute, &b.EndMinute, &reason); err != nil {
			return nil, err
		}
		b.Date = parseDate(date)
		b.Reason = reason.String
		out = append(out, b)
	}
	return out, rows.Err()
}

// =============================================================================
// DIRECTORY (booking.Directory)
// =============================================================================

// GetMember returns one member by ID.
func (s *Store) GetMember(ctx context.Context, id ledger.UserID) (booking.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var m booking.Member
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, active FROM members WHERE id = ?", id,
	).Scan(&m.ID, &m.Name, &m.Active)

	if err == sql.ErrNoRows {
		return booking.Member{}, fmt.Errorf("%w: member %s", ledger.ErrEntryNotFound, id)
	}
	return m, err
}

// GetProvider returns one mentor by ID.
func (s *Store) GetProvider(ctx context.Context, id booking.ProviderID) (booking.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p booking.Provider
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, active FROM providers WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &p.Active)

	if err == sql.ErrNoRows {
		return booking.Provider{}, fmt.Errorf("%w: provider %s", ledger.ErrEntryNotFound, id)
	}
	return p, err
}

// MembersByID bulk-loads members for the recurring batch snapshot.
// Missing IDs are simply absent from the result.
func (s *Store) MembersByID(ctx context.Context, ids []ledger.UserID) (map[ledger.UserID]booking.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[ledger.UserID]booking.Member, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	query := fmt.Sprintf("SELECT id, name, active FROM members WHERE id IN (%s)",
		placeholders[:len(placeholders)-1])

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m booking.Member
		if err := rows.Scan(&m.ID, &m.Name, &m.Active); err != nil {
			return nil, err
		}
		out[m.ID] = m
	}
	return out, rows.Err()
}

// ProvidersByID bulk-loads mentors for the recurring batch snapshot.
func (s *Store) ProvidersByID(ctx context.Context, ids []booking.ProviderID) (map[booking.ProviderID]booking.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[booking.ProviderID]booking.Provider, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	query := fmt.Sprintf("SELECT id, name, active FROM providers WHERE id IN (%s)",
		placeholders[:len(placeholders)-1])

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p booking.Provider
		if err := rows.Scan(&p.ID, &p.Name, &p.Active); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// SaveMember upserts a member record.
func (s *Store) SaveMember(ctx context.Context, m booking.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (id, name, active) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, active = excluded.active
	`, m.ID, m.Name, m.Active)
	return err
}

// SaveProvider upserts a mentor record.
func (s *Store) SaveProvider(ctx context.Context, p booking.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO providers (id, name, active) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, active = excluded.active
	`, p.ID, p.Name, p.Active)
	return err
}

// SaveSessionType upserts a session type.
func (s *Store) SaveSessionType(ctx context.Context, st booking.SessionType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_types (id, name, coin_cost, duration_minutes)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			coin_cost = excluded.coin_cost,
			duration_minutes = excluded.duration_minutes
	`, st.ID, st.Name, st.CoinCost, st.DurationMinutes)
	return err
}
