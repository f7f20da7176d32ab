package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"flowboard/domain"
)

// CreateBoard inserts the board and its owner participant in one transaction.
func (s *Storage) CreateBoard(ctx context.Context, board domain.Board) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create board: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO boards (id, name, owner_id, archived, created_at) VALUES (?, ?, ?, 0, ?)`,
		board.ID, board.Name, board.OwnerID, board.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert board: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO participants (board_id, user_id, role) VALUES (?, ?, ?)`,
		board.ID, board.OwnerID, domain.RoleOwner); err != nil {
		return fmt.Errorf("insert owner participant: %w", err)
	}
	return tx.Commit()
}

// Board returns the board or nil when it does not exist.
func (s *Storage) Board(ctx context.Context, id string) (*domain.Board, error) {
	var b domain.Board
	var archived int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, archived, created_at FROM boards WHERE id = ?`, id).
		Scan(&b.ID, &b.Name, &b.OwnerID, &archived, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select board: %w", err)
	}
	b.Archived = archived != 0
	return &b, nil
}

// Role reports the participant role of a user on a board.
func (s *Storage) Role(ctx context.Context, boardID, userID string) (domain.Role, bool, error) {
	var role domain.Role
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM participants WHERE board_id = ? AND user_id = ?`, boardID, userID).
		Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select role: %w", err)
	}
	return role, true, nil
}

// AddParticipant grants a role on a board, overwriting an existing grant.
func (s *Storage) AddParticipant(ctx context.Context, p domain.Participant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO participants (board_id, user_id, role) VALUES (?, ?, ?)
		 ON CONFLICT (board_id, user_id) DO UPDATE SET role = excluded.role`,
		p.BoardID, p.UserID, p.Role)
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

// ArchiveBoard marks a board inactive. Its tasks remain untouched.
func (s *Storage) ArchiveBoard(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE boards SET archived = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("archive board: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("board %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Snapshot loads a board with its tasks grouped by status, each column
// sorted ascending by position.
func (s *Storage) Snapshot(ctx context.Context, boardID string) (domain.BoardSnapshot, error) {
	board, err := s.Board(ctx, boardID)
	if err != nil {
		return domain.BoardSnapshot{}, err
	}
	if board == nil {
		return domain.BoardSnapshot{}, fmt.Errorf("board %s: %w", boardID, domain.ErrNotFound)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, board_id, status, position, title, notes, created_by, completed_at
		 FROM tasks WHERE board_id = ? ORDER BY status, position`, boardID)
	if err != nil {
		return domain.BoardSnapshot{}, fmt.Errorf("select tasks: %w", err)
	}
	defer rows.Close()

	snapshot := domain.BoardSnapshot{Board: *board, Columns: map[domain.Status][]domain.Task{}}
	for _, st := range domain.Statuses() {
		snapshot.Columns[st] = []domain.Task{}
	}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return domain.BoardSnapshot{}, err
		}
		snapshot.Columns[t.Status] = append(snapshot.Columns[t.Status], *t)
	}
	if err := rows.Err(); err != nil {
		return domain.BoardSnapshot{}, fmt.Errorf("iterate tasks: %w", err)
	}
	return snapshot, nil
}
