package request

import (
	"time"

	"maintflow/access"
	"maintflow/team"
)

// coordinator turns an accepted operation into the complete write set. It
// never talks to storage; the repository commits what it produces.
type coordinator struct {
	policy access.Policy
}

func baseWriteSet(req Request, at time.Time) WriteSet {
	return WriteSet{
		RequestID:            req.ID,
		ExpectedStatus:       req.Status,
		ExpectedTechnicianID: req.TechnicianID,
		Status:               req.Status,
		At:                   at,
	}
}

// planTransition computes status, timestamps, the self-assignment step, the
// equipment cascade and the history entry for an accepted move.
func (c coordinator) planTransition(req Request, to Status, payload Payload, actor access.Actor, members []team.Member, at time.Time) WriteSet {
	ws := baseWriteSet(req, at)
	ws.Status = to

	switch to {
	case StatusInProgress:
		if req.StartedAt == nil {
			ws.StartedAt = &at
		}
		c.selfAssign(&ws, req, actor, members)
	case StatusRepaired, StatusScrap:
		if req.CompletedAt == nil {
			ws.CompletedAt = &at
		}
		if payload.DurationMinutes != nil && *payload.DurationMinutes > 0 {
			ws.DurationMinutes = payload.DurationMinutes
		}
		ws.RepairNotes = payload.RepairNotes
		if to == StatusScrap {
			ws.ScrapEquipmentID = req.EquipmentID
		}
	}

	ws.Log = statusChangedEntry(req, ws, actor, at)
	return ws
}

// selfAssign makes a worker who starts an unassigned request its technician.
// It only fires for actors able to work the request and belonging to its team,
// so the assignment it writes is always a valid one.
func (c coordinator) selfAssign(ws *WriteSet, req Request, actor access.Actor, members []team.Member) {
	if req.TechnicianID != nil {
		return
	}
	if !c.policy.CanWork(actor.Role) || !team.Includes(members, actor.UserID) {
		return
	}
	id := actor.UserID
	ws.SetTechnician = true
	ws.TechnicianID = &id
}

func (c coordinator) planAssignment(req Request, technicianID *string, actor access.Actor, at time.Time) WriteSet {
	ws := baseWriteSet(req, at)
	ws.SetTechnician = true
	ws.TechnicianID = technicianID
	ws.Log = assignmentEntry(req, technicianID, actor, at)
	return ws
}

// planUpdate returns the write set for descriptive edits and whether anything
// actually changes.
func (c coordinator) planUpdate(req Request, edits fieldEdits, actor access.Actor, at time.Time) (WriteSet, bool) {
	ws := baseWriteSet(req, at)
	changes := make(map[string]any)

	if edits.title != nil && *edits.title != req.Title {
		ws.Title = edits.title
		changes["title"] = change(req.Title, *edits.title)
	}
	if edits.description != nil && *edits.description != req.Description {
		ws.Description = edits.description
		changes["description"] = change(req.Description, *edits.description)
	}
	if edits.priority != nil && *edits.priority != req.Priority {
		ws.Priority = edits.priority
		changes["priority"] = change(req.Priority, *edits.priority)
	}
	if edits.scheduledDate != nil && (req.ScheduledDate == nil || !req.ScheduledDate.Equal(*edits.scheduledDate)) {
		ws.ScheduledDate = edits.scheduledDate
		changes["scheduledDate"] = change(req.ScheduledDate, *edits.scheduledDate)
	}

	if len(changes) == 0 {
		return WriteSet{}, false
	}
	ws.Log = updatedEntry(req, changes, actor, at)
	return ws, true
}

type fieldEdits struct {
	title         *string
	description   *string
	priority      *Priority
	scheduledDate *time.Time
}

func change(from, to any) map[string]any {
	return map[string]any{"from": from, "to": to}
}
