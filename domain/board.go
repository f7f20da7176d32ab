package domain

import "time"

// Role is a participant's capability level on a board.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// ParseRole validates a raw role name. Owner is assigned at board creation
// and is not grantable afterwards.
func ParseRole(raw string) (Role, bool) {
	switch r := Role(raw); r {
	case RoleEditor, RoleViewer:
		return r, true
	}
	return "", false
}

// Board groups tasks and owns the participant set used for authorization.
type Board struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"createdAt"`
}

// Participant links a user to a board with a role.
type Participant struct {
	BoardID string `json:"boardId"`
	UserID  string `json:"userId"`
	Role    Role   `json:"role"`
}

// BoardSnapshot is the read model served to clients: every column present,
// tasks sorted ascending by position.
type BoardSnapshot struct {
	Board   Board             `json:"board"`
	Columns map[Status][]Task `json:"columns"`
}
