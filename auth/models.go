package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role is the system role carried by every user and embedded in issued tokens.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleManager    Role = "MANAGER"
	RoleTechnician Role = "TECHNICIAN"
	RoleRequester  Role = "REQUESTER"
)

// Roles lists every valid role.
var Roles = []Role{RoleAdmin, RoleManager, RoleTechnician, RoleRequester}

// ParseRole normalises s and returns the matching Role.
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !isValidRole(role) {
		return "", fmt.Errorf("%w %q", ErrInvalidRole, s)
	}
	return role, nil
}

// User is the domain representation of an authenticated user.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
