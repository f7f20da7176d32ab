package domain

import (
	"context"
	"fmt"
	"time"
)

// BoardTx exposes the ordered-board mutations available inside one storage
// transaction. ShiftRange bounds are inclusive; to < 0 means "to the end of
// the column".
type BoardTx interface {
	Task(id string) (*Task, error)
	ShiftRange(boardID string, status Status, from, to, delta int) error
	Place(id string, status Status, position int, completedAt *time.Time) error
}

// BoardStore runs a function inside a single atomic transaction. Any error
// rolls the whole transaction back; partial shifts never persist.
type BoardStore interface {
	InTx(ctx context.Context, fn func(tx BoardTx) error) error
}

// ReorderEngine applies move intents while preserving the contiguous
// position invariant of every (board, status) partition.
type ReorderEngine struct {
	st  BoardStore
	now func() time.Time
}

func NewReorderEngine(st BoardStore) ReorderEngine {
	return ReorderEngine{st: st, now: time.Now}
}

// Move relocates a task to (TargetStatus, TargetPosition) and returns the
// updated task plus the ids of the boards whose ordering changed.
//
// The shifts and the final placement run in one transaction. The stored
// position is re-checked against the intent's captured SourcePosition before
// anything is written; a mismatch yields ErrConcurrentModification and the
// caller must recompute the intent against fresh state.
//
// TargetPosition must already be clamped to [0, columnLength]; the engine
// performs only the shift arithmetic.
func (e ReorderEngine) Move(ctx context.Context, intent MoveIntent) (Task, []string, error) {
	var moved Task
	err := e.st.InTx(ctx, func(tx BoardTx) error {
		t, err := tx.Task(intent.TaskID)
		if err != nil {
			return err
		}
		if t == nil {
			return fmt.Errorf("task %s: %w", intent.TaskID, ErrNotFound)
		}
		if t.Position != intent.SourcePosition {
			return fmt.Errorf("task %s moved from position %d to %d: %w",
				intent.TaskID, intent.SourcePosition, t.Position, ErrConcurrentModification)
		}

		source, sourcePos := t.Status, t.Position
		target, targetPos := intent.TargetStatus, intent.TargetPosition

		switch {
		case source == target && targetPos > sourcePos:
			if err := tx.ShiftRange(t.BoardID, source, sourcePos+1, targetPos, -1); err != nil {
				return err
			}
		case source == target && targetPos < sourcePos:
			if err := tx.ShiftRange(t.BoardID, source, targetPos, sourcePos-1, +1); err != nil {
				return err
			}
		case source != target:
			if err := tx.ShiftRange(t.BoardID, source, sourcePos+1, -1, -1); err != nil {
				return err
			}
			if err := tx.ShiftRange(t.BoardID, target, targetPos, -1, +1); err != nil {
				return err
			}
		}

		completedAt := t.CompletedAt
		if target == StatusDone && source != StatusDone {
			now := e.now()
			completedAt = &now
		} else if target != StatusDone && source == StatusDone {
			completedAt = nil
		}

		if err := tx.Place(t.ID, target, targetPos, completedAt); err != nil {
			return err
		}
		t.Status = target
		t.Position = targetPos
		t.CompletedAt = completedAt
		moved = *t
		return nil
	})
	if err != nil {
		return Task{}, nil, err
	}
	return moved, []string{moved.BoardID}, nil
}
