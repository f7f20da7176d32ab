package storage

import (
	"context"
	"database/sql"
	"fmt"

	"flowboard/domain"
)

// AppendAudit inserts one audit entry. The table is append-only; nothing in
// this package ever updates or deletes a row from it.
func (s *Storage) AppendAudit(ctx context.Context, entry domain.AuditEntry) error {
	var details any
	if len(entry.Details) > 0 {
		details = string(entry.Details)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (id, board_id, actor_id, action, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.BoardID, entry.ActorID, entry.Action, details, entry.Time.UTC())
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns up to limit entries for a board, newest first.
func (s *Storage) ListAudit(ctx context.Context, boardID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, board_id, actor_id, action, details, created_at
		 FROM audit_entries WHERE board_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		boardID, limit)
	if err != nil {
		return nil, fmt.Errorf("select audit entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.AuditEntry{}
	for rows.Next() {
		var e domain.AuditEntry
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.BoardID, &e.ActorID, &e.Action, &details, &e.Time); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if details.Valid {
			e.Details = []byte(details.String)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
