package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"flowboard/domain"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	var completed sql.NullTime
	err := row.Scan(&t.ID, &t.BoardID, &t.Status, &t.Position, &t.Title, &t.Notes, &t.CreatedBy, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	if completed.Valid {
		at := completed.Time
		t.CompletedAt = &at
	}
	return &t, nil
}

const selectTask = `SELECT id, board_id, status, position, title, notes, created_by, completed_at FROM tasks WHERE id = ?`

// Task returns the task or nil when it does not exist.
func (s *Storage) Task(ctx context.Context, id string) (*domain.Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, selectTask, id))
}

// ColumnLength counts the tasks currently in one (board, status) partition.
func (s *Storage) ColumnLength(ctx context.Context, boardID string, status domain.Status) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE board_id = ? AND status = ?`, boardID, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count column: %w", err)
	}
	return n, nil
}

// CreateTask appends the task to the end of its column. The count and the
// insert share a transaction so two concurrent creates cannot claim the same
// position.
func (s *Storage) CreateTask(ctx context.Context, t *domain.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create task: %w", err)
	}
	defer tx.Rollback()

	var position int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE board_id = ? AND status = ?`, t.BoardID, t.Status).
		Scan(&position); err != nil {
		return fmt.Errorf("count column: %w", err)
	}
	t.Position = position

	var completed any
	if t.CompletedAt != nil {
		completed = t.CompletedAt.UTC()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tasks (id, board_id, status, position, title, notes, created_by, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.BoardID, t.Status, t.Position, t.Title, t.Notes, t.CreatedBy, completed); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return tx.Commit()
}

// UpdateTaskContent edits title and notes. Content edits never touch the
// position of a task.
func (s *Storage) UpdateTaskContent(ctx context.Context, id string, title, notes *string) (*domain.Task, error) {
	if title == nil && notes == nil {
		return nil, errors.New("update had no fields")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update task: %w", err)
	}
	defer tx.Rollback()

	t, err := scanTask(tx.QueryRowContext(ctx, selectTask, id))
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if title != nil {
		t.Title = *title
	}
	if notes != nil {
		t.Notes = *notes
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET title = ?, notes = ? WHERE id = ?`, t.Title, t.Notes, id); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteTask removes the task and compacts the positions after it in its
// former column, inside one transaction. It returns the deleted task.
func (s *Storage) DeleteTask(ctx context.Context, id string) (*domain.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete task: %w", err)
	}
	defer tx.Rollback()

	t, err := scanTask(tx.QueryRowContext(ctx, selectTask, id))
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete task: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET position = position - 1 WHERE board_id = ? AND status = ? AND position > ?`,
		t.BoardID, t.Status, t.Position); err != nil {
		return nil, fmt.Errorf("compact column: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

// boardTx adapts one *sql.Tx to the ordered-board transaction interface.
type boardTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (b boardTx) Task(id string) (*domain.Task, error) {
	return scanTask(b.tx.QueryRowContext(b.ctx, selectTask, id))
}

func (b boardTx) ShiftRange(boardID string, status domain.Status, from, to, delta int) error {
	var err error
	if to < 0 {
		_, err = b.tx.ExecContext(b.ctx,
			`UPDATE tasks SET position = position + ? WHERE board_id = ? AND status = ? AND position >= ?`,
			delta, boardID, status, from)
	} else {
		_, err = b.tx.ExecContext(b.ctx,
			`UPDATE tasks SET position = position + ? WHERE board_id = ? AND status = ? AND position >= ? AND position <= ?`,
			delta, boardID, status, from, to)
	}
	if err != nil {
		return fmt.Errorf("shift positions: %w", err)
	}
	return nil
}

func (b boardTx) Place(id string, status domain.Status, position int, completedAt *time.Time) error {
	var completed any
	if completedAt != nil {
		completed = completedAt.UTC()
	}
	_, err := b.tx.ExecContext(b.ctx,
		`UPDATE tasks SET status = ?, position = ?, completed_at = ? WHERE id = ?`,
		status, position, completed, id)
	if err != nil {
		return fmt.Errorf("place task: %w", err)
	}
	return nil
}

// InTx runs fn inside one bounded transaction; any error rolls back every
// write fn made.
func (s *Storage) InTx(ctx context.Context, fn func(tx domain.BoardTx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin move: %w", err)
	}
	if err := fn(boardTx{ctx: ctx, tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
