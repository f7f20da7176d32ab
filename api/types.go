package api

import (
	"context"

	"flowboard/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	CreateBoard(ctx context.Context, board domain.Board) error
	Board(ctx context.Context, id string) (*domain.Board, error)
	AddParticipant(ctx context.Context, p domain.Participant) error
	ArchiveBoard(ctx context.Context, id string) error
	CreateTask(ctx context.Context, t *domain.Task) error
	Task(ctx context.Context, id string) (*domain.Task, error)
	UpdateTaskContent(ctx context.Context, id string, title, notes *string) (*domain.Task, error)
	DeleteTask(ctx context.Context, id string) (*domain.Task, error)
	ColumnLength(ctx context.Context, boardID string, status domain.Status) (int, error)
	ListAudit(ctx context.Context, boardID string, limit int) ([]domain.AuditEntry, error)
	Ping(ctx context.Context) error
}

// SnapshotSource serves board read models; in production it is the
// redis-backed cache decorator, in tests usually the bare store.
type SnapshotSource interface {
	Snapshot(ctx context.Context, boardID string) (domain.BoardSnapshot, error)
}

// CacheEvictor drops a board's cached snapshot after a mutation.
type CacheEvictor interface {
	Evict(ctx context.Context, boardID string)
}

// Authenticator is implemented by types able to extract user IDs from
// headers or raw tokens.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
	UserIDFromToken(string) (string, error)
}

// Gate authorizes principal actions on boards.
type Gate interface {
	Authorize(ctx context.Context, userID, boardID string, action domain.Action) error
}

// Mover applies move intents transactionally.
type Mover interface {
	Move(ctx context.Context, intent domain.MoveIntent) (domain.Task, []string, error)
}

// Recorder appends audit entries for committed mutations.
type Recorder interface {
	Record(ctx context.Context, boardID, actorID string, action domain.AuditAction, details any)
}

// Broadcaster publishes events to board rooms, best-effort.
type Broadcaster interface {
	Publish(ctx context.Context, room string, typ domain.EventType, payload any)
}
