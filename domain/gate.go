package domain

import (
	"context"
	"fmt"
)

// Action names an operation a principal may attempt on a board.
type Action string

const (
	ActionViewBoard          Action = "board.view"
	ActionStreamBoard        Action = "board.stream"
	ActionArchiveBoard       Action = "board.archive"
	ActionManageParticipants Action = "board.participants"
	ActionCreateTask         Action = "task.create"
	ActionEditTask           Action = "task.edit"
	ActionMoveTask           Action = "task.move"
	ActionDeleteTask         Action = "task.delete"
)

func (a Action) mutates() bool {
	switch a {
	case ActionViewBoard, ActionStreamBoard:
		return false
	}
	return true
}

func (a Action) ownerOnly() bool {
	return a == ActionArchiveBoard || a == ActionManageParticipants
}

// GateStore resolves boards and participant roles for authorization checks.
type GateStore interface {
	Board(ctx context.Context, id string) (*Board, error)
	Role(ctx context.Context, boardID, userID string) (Role, bool, error)
}

// AccessGate answers whether a principal may act on a board. It must be
// consulted before every mutation and before stream subscription; a denial
// short-circuits the operation with no side effects.
type AccessGate struct{ st GateStore }

func NewAccessGate(st GateStore) AccessGate { return AccessGate{st: st} }

// Authorize returns nil when the action is permitted, *AccessDeniedError
// when it is not, and ErrNotFound when the board does not exist.
func (g AccessGate) Authorize(ctx context.Context, userID, boardID string, action Action) error {
	board, err := g.st.Board(ctx, boardID)
	if err != nil {
		return err
	}
	if board == nil {
		return fmt.Errorf("board %s: %w", boardID, ErrNotFound)
	}

	role, ok, err := g.st.Role(ctx, boardID, userID)
	if err != nil {
		return err
	}
	deny := func(reason DenyReason) error {
		return &AccessDeniedError{UserID: userID, BoardID: boardID, Action: action, Reason: reason}
	}
	if !ok {
		return deny(DenyNotParticipant)
	}
	if board.Archived && action.mutates() {
		return deny(DenyBoardArchived)
	}
	if action.ownerOnly() && role != RoleOwner {
		return deny(DenyNotOwner)
	}
	if action.mutates() && role == RoleViewer {
		return deny(DenyInsufficientRole)
	}
	return nil
}
