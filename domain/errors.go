package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the referenced entity does not exist (or vanished
// between the intent being computed and applied).
var ErrNotFound = errors.New("not found")

// ErrConcurrentModification indicates that the moved task's stored position
// no longer matches the position captured when the move intent was computed.
// Callers recompute against fresh state and retry once.
var ErrConcurrentModification = errors.New("concurrent modification")

// DenyReason explains an authorization denial.
type DenyReason string

const (
	DenyNotParticipant   DenyReason = "notParticipant"
	DenyNotOwner         DenyReason = "notOwner"
	DenyBoardArchived    DenyReason = "boardArchived"
	DenyInsufficientRole DenyReason = "insufficientRole"
)

// AccessDeniedError is returned by the gate when a principal may not perform
// an action on a board. Denials carry no other side effects.
type AccessDeniedError struct {
	UserID  string
	BoardID string
	Action  Action
	Reason  DenyReason
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: user %s may not %s on board %s (%s)", e.UserID, e.Action, e.BoardID, e.Reason)
}
