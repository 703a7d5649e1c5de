package team

import (
	"time"

	"maintflow/auth"
)

// Team is a maintenance crew that requests are routed to.
type Team struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Member is a team membership joined with the member's system role.
type Member struct {
	TeamID   string
	UserID   string
	FullName string
	Role     auth.Role
}

// Includes reports whether userID appears in members.
func Includes(members []Member, userID string) bool {
	_, ok := Find(members, userID)
	return ok
}

// Find returns the membership for userID, if any.
func Find(members []Member, userID string) (Member, bool) {
	for _, m := range members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}
