/*
exchange.go - exchange.Store on SQLite
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/forgefit/coin-engine/exchange"
	"github.com/forgefit/coin-engine/ledger"
)

// =============================================================================
// ITEMS
// =============================================================================

// GetItem returns one exchange item by ID.
func (s *Store) GetItem(ctx context.Context, id exchange.ItemID) (exchange.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var it exchange.Item
	var cashValue string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, coin_cost, cash_value, stock, active FROM exchange_items WHERE id = ?", id,
	).Scan(&it.ID, &it.Name, &it.CoinCost, &cashValue, &it.Stock, &it.Active)

	if err == sql.ErrNoRows {
		return exchange.Item{}, fmt.Errorf("%w: item %s", ledger.ErrEntryNotFound, id)
	}
	if err != nil {
		return exchange.Item{}, err
	}

	it.CashValue, err = decimal.NewFromString(cashValue)
	if err != nil {
		return exchange.Item{}, fmt.Errorf("item %s holds bad cash_value %q: %w", id, cashValue, err)
	}
	return it, nil
}

// ListItems returns items, optionally active-only.
func (s *Store) ListItems(ctx context.Context, activeOnly bool) ([]exchange.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, name, coin_cost, cash_value, stock, active FROM exchange_items"
	if activeOnly {
		query += " WHERE active = TRUE"
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []exchange.Item
	for rows.Next() {
		var it exchange.Item
		var cashValue string
		if err := rows.Scan(&it.ID, &it.Name, &it.CoinCost, &cashValue, &it.Stock, &it.Active); err != nil {
			return nil, err
		}
		it.CashValue, err = decimal.NewFromString(cashValue)
		if err != nil {
			return nil, fmt.Errorf("item %s holds bad cash_value %q: %w", it.ID, cashValue, err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// SaveItem upserts an exchange item.
func (s *Store) SaveItem(ctx context.Context, it exchange.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchange_items (id, name, coin_cost, cash_value, stock, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			coin_cost = excluded.coin_cost,
			cash_value = excluded.cash_value,
			stock = excluded.stock,
			active = excluded.active
	`, it.ID, it.Name, it.CoinCost, it.CashValue.String(), it.Stock, it.Active)
	return err
}

// AdjustStock changes an item's stock count by delta.
func (s *Store) AdjustStock(ctx context.Context, id exchange.ItemID, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE exchange_items SET stock = stock + ? WHERE id = ?", delta, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: item %s", ledger.ErrEntryNotFound, id)
	}
	return nil
}

// =============================================================================
// REQUESTS
// =============================================================================

// CreateRequest inserts a pending exchange request.
func (s *Store) CreateRequest(ctx context.Context, r exchange.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchange_requests (id, user_id, item_id, coin_cost, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.UserID, r.ItemID, r.CoinCost, r.Status,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create exchange request: %w", err)
	}
	return nil
}

// GetRequest returns one exchange request by ID.
func (s *Store) GetRequest(ctx context.Context, id exchange.RequestID) (exchange.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r exchange.Request
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, item_id, coin_cost, status, created_at, updated_at
		FROM exchange_requests WHERE id = ?
	`, id).Scan(&r.ID, &r.UserID, &r.ItemID, &r.CoinCost, &r.Status, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return exchange.Request{}, fmt.Errorf("%w: exchange request %s", ledger.ErrEntryNotFound, id)
	}
	if err != nil {
		return exchange.Request{}, err
	}

	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// SetRequestStatus transitions a request's status.
func (s *Store) SetRequestStatus(ctx context.Context, id exchange.RequestID, status exchange.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE exchange_requests SET status = ?, updated_at = ?
		WHERE id = ?
	`, status, formatTime(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("failed to set request status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: exchange request %s", ledger.ErrEntryNotFound, id)
	}
	return nil
}

// DeleteRequest removes a request record. Compensation only.
func (s *Store) DeleteRequest(ctx context.Context, id exchange.RequestID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM exchange_requests WHERE id = ?", id)
	return err
}

// ListRequestsByUser returns a user's requests, newest first.
func (s *Store) ListRequestsByUser(ctx context.Context, userID ledger.UserID) ([]exchange.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, item_id, coin_cost, status, created_at, updated_at
		FROM exchange_requests
		WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []exchange.Request
	for rows.Next() {
		var r exchange.Request
		var createdAt, updatedAt string
		if err := rows.Scan(&r.ID, &r.UserID, &r.ItemID, &r.CoinCost,
			&r.Status, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		r.CreatedAt = parseTime(createdAt)
		r.UpdatedAt = parseTime(updatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
