package request

import (
	"fmt"
	"strings"
	"time"

	"maintflow/access"
)

// Type distinguishes breakdown work from planned work.
type Type string

const (
	TypeCorrective Type = "CORRECTIVE"
	TypePreventive Type = "PREVENTIVE"
)

func parseType(s string) (Type, error) {
	switch t := Type(strings.ToUpper(strings.TrimSpace(s))); t {
	case "":
		return TypeCorrective, nil
	case TypeCorrective, TypePreventive:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrValidation, s)
	}
}

// Priority orders requests for the maintenance crew.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

func parsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToUpper(strings.TrimSpace(s))); p {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown priority %q", ErrValidation, s)
	}
}

// Request mirrors the maintenance_requests table.
type Request struct {
	ID              string
	Title           string
	Description     string
	Type            Type
	Status          Status
	Priority        Priority
	Category        string
	ScheduledDate   *time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	DurationMinutes *int
	RepairNotes     *string
	EquipmentID     string
	TeamID          *string
	TechnicianID    *string
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LogAction tags a history entry.
type LogAction string

const (
	ActionCreated       LogAction = "CREATED"
	ActionStatusChanged LogAction = "STATUS_CHANGED"
	ActionAssigned      LogAction = "ASSIGNED"
	ActionUnassigned    LogAction = "UNASSIGNED"
	ActionUpdated       LogAction = "UPDATED"
)

// LogEntry is an immutable history row for a request.
type LogEntry struct {
	ID          int64
	RequestID   string
	ActorUserID string
	Action      LogAction
	Details     map[string]any
	CreatedAt   time.Time
}

// CreateParams enumerates the caller-supplied fields for a new request.
type CreateParams struct {
	Title         string
	Description   string
	Type          string
	Priority      string
	EquipmentID   string
	ScheduledDate *time.Time
	Actor         access.Actor
}

// TransitionParams describes a requested status change.
type TransitionParams struct {
	RequestID       string
	Target          Status
	DurationMinutes *int
	RepairNotes     *string
	Actor           access.Actor
}

// AssignParams describes a technician (re)assignment. A nil TechnicianID
// clears the assignment.
type AssignParams struct {
	RequestID    string
	TechnicianID *string
	Actor        access.Actor
}

// UpdateParams carries edits to descriptive fields; nil fields are left as is.
type UpdateParams struct {
	RequestID     string
	Title         *string
	Description   *string
	Priority      *string
	ScheduledDate *time.Time
	Actor         access.Actor
}

// WriteSet is everything one accepted mutation writes, committed as a unit.
// The Expected* fields are compared against the stored row at commit time.
type WriteSet struct {
	RequestID            string
	ExpectedStatus       Status
	ExpectedTechnicianID *string

	Status          Status
	StartedAt       *time.Time
	CompletedAt     *time.Time
	DurationMinutes *int
	RepairNotes     *string

	SetTechnician bool
	TechnicianID  *string

	Title         *string
	Description   *string
	Priority      *Priority
	ScheduledDate *time.Time

	// ScrapEquipmentID, when set, marks that equipment SCRAPPED in the same commit.
	ScrapEquipmentID string

	Log LogEntry
	At  time.Time
}
