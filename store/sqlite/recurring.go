/*
recurring.go - recurring.TemplateStore and recurring.ExpansionLog on
SQLite

Templates are soft-deactivated, never deleted: history queries and the
expansion log keep referring to them. expansion_log is append-only.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/forgefit/coin-engine/ledger"
	"github.com/forgefit/coin-engine/recurring"
)

// =============================================================================
// TEMPLATE STORE (recurring.TemplateStore)
// =============================================================================

// CreateTemplate persists a standing weekly template.
func (s *Store) CreateTemplate(ctx context.Context, t recurring.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO recurring_templates
		(id, user_id, provider_id, session_type_id, weekday, start_minute,
		 end_minute, is_active, created_at, deactivated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var deactivatedAt *string
	if t.DeactivatedAt != nil {
		v := formatTime(*t.DeactivatedAt)
		deactivatedAt = &v
	}

	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.UserID, t.ProviderID, t.SessionTypeID, int(t.Weekday),
		t.StartMinute, t.EndMinute, t.IsActive, formatTime(t.CreatedAt),
		deactivatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// GetTemplate returns one template by ID.
func (s *Store) GetTemplate(ctx context.Context, id recurring.TemplateID) (recurring.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, provider_id, session_type_id, weekday,
		       start_minute, end_minute, is_active, created_at, deactivated_at
		FROM recurring_templates WHERE id = ?
	`, id)

	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return recurring.Template{}, fmt.Errorf("%w: template %s", ledger.ErrEntryNotFound, id)
	}
	return t, err
}

// ActiveTemplates returns every active template.
func (s *Store) ActiveTemplates(ctx context.Context) ([]recurring.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, provider_id, session_type_id, weekday,
		       start_minute, end_minute, is_active, created_at, deactivated_at
		FROM recurring_templates
		WHERE is_active = TRUE
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var out []recurring.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeactivateTemplate soft-deletes a template.
func (s *Store) DeactivateTemplate(ctx context.Context, id recurring.TemplateID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE recurring_templates
		SET is_active = FALSE, deactivated_at = ?
		WHERE id = ?
	`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: template %s", ledger.ErrEntryNotFound, id)
	}
	return nil
}

func scanTemplate(row rowScanner) (recurring.Template, error) {
	var (
		t             recurring.Template
		wd            int
		createdAt     string
		deactivatedAt sql.NullString
	)

	err := row.Scan(&t.ID, &t.UserID, &t.ProviderID, &t.SessionTypeID,
		&wd, &t.StartMinute, &t.EndMinute, &t.IsActive, &createdAt, &deactivatedAt)
	if err != nil {
		return t, err
	}

	t.Weekday = time.Weekday(wd)
	t.CreatedAt = parseTime(createdAt)
	if deactivatedAt.Valid {
		at := parseTime(deactivatedAt.String)
		t.DeactivatedAt = &at
	}
	return t, nil
}

// =============================================================================
// EXPANSION LOG (recurring.ExpansionLog)
// =============================================================================

// AppendExpansion writes one attempt row. Append-only.
func (s *Store) AppendExpansion(ctx context.Context, e recurring.ExpansionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expansion_log (id, template_id, target_date, outcome, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.TemplateID, formatDate(e.TargetDate), e.Outcome,
		nullString(e.Reason), formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append expansion row: %w", err)
	}
	return nil
}

// ExpansionsInRange returns attempt rows with target date in [from, to).
func (s *Store) ExpansionsInRange(ctx context.Context, from, to time.Time) ([]recurring.ExpansionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, template_id, target_date, outcome, reason, created_at
		FROM expansion_log
		WHERE target_date >= ? AND target_date < ?
		ORDER BY target_date ASC, created_at ASC
	`, formatDate(from), formatDate(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query expansion log: %w", err)
	}
	defer rows.Close()

	var out []recurring.ExpansionLogEntry
	for rows.Next() {
		var (
			e                     recurring.ExpansionLogEntry
			targetDate, createdAt string
			reason                sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TemplateID, &targetDate, &e.Outcome,
			&reason, &createdAt); err != nil {
			return nil, err
		}
		e.TargetDate = parseDate(targetDate)
		e.Reason = reason.String
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
