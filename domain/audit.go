package domain

import (
	"encoding/json"
	"time"
)

// AuditAction identifies a recorded board mutation.
type AuditAction string

const (
	AuditTaskCreated      AuditAction = "task.created"
	AuditTaskUpdated      AuditAction = "task.updated"
	AuditTaskMoved        AuditAction = "task.moved"
	AuditTaskDeleted      AuditAction = "task.deleted"
	AuditBoardCreated     AuditAction = "board.created"
	AuditBoardArchived    AuditAction = "board.archived"
	AuditParticipantAdded AuditAction = "participant.added"
)

// AuditEntry is an immutable record of a mutation. Entries are append-only
// and never updated or deleted.
type AuditEntry struct {
	ID      string          `json:"id"`
	BoardID string          `json:"boardId"`
	ActorID string          `json:"actorId"`
	Action  AuditAction     `json:"action"`
	Details json.RawMessage `json:"details,omitempty"`
	Time    time.Time       `json:"time"`
}
