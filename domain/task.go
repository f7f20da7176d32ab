package domain

import (
	"fmt"
	"time"
)

// Status is the column a task currently occupies on its board.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
)

// Statuses lists every column in board order.
func Statuses() []Status {
	return []Status{StatusTodo, StatusInProgress, StatusReview, StatusDone}
}

// ParseStatus validates a raw column name from a request or a stored row.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusTodo, StatusInProgress, StatusReview, StatusDone:
		return s, nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// Task represents a single board item. Within every (BoardID, Status)
// partition positions are a contiguous 0..n-1 sequence.
type Task struct {
	ID          string     `json:"id"`
	BoardID     string     `json:"boardId"`
	Status      Status     `json:"status"`
	Position    int        `json:"position"`
	Title       string     `json:"title"`
	Notes       string     `json:"notes,omitempty"`
	CreatedBy   string     `json:"createdBy"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// MoveIntent is an ephemeral description of a drag-and-drop. SourcePosition
// is the position the task held when the intent was computed; the engine
// rejects the move if the stored position has drifted since.
type MoveIntent struct {
	TaskID         string
	TargetStatus   Status
	TargetPosition int
	SourcePosition int
}
