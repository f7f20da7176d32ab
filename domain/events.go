package domain

import "encoding/json"

// EventType identifies a live update pushed to board subscribers. The set is
// closed: the broadcaster refuses anything ParseEventType does not know.
type EventType string

const (
	EventTaskCreated      EventType = "task-created"
	EventTaskUpdated      EventType = "task-updated"
	EventTaskMoved        EventType = "task-moved"
	EventTaskDeleted      EventType = "task-deleted"
	EventBoardArchived    EventType = "board-archived"
	EventParticipantAdded EventType = "participant-added"
)

// ParseEventType validates a raw event type, e.g. one arriving over the relay.
func ParseEventType(raw string) (EventType, bool) {
	switch t := EventType(raw); t {
	case EventTaskCreated, EventTaskUpdated, EventTaskMoved, EventTaskDeleted,
		EventBoardArchived, EventParticipantAdded:
		return t, true
	}
	return "", false
}

// Event is a transient live update. Delivery is best-effort, at most once
// per subscriber per publish.
type Event struct {
	Room string          `json:"room"`
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	Time int64           `json:"time"`
}

// BoardRoom derives the routing key multicasting a board's events.
func BoardRoom(boardID string) string {
	return "board:" + boardID
}
