package request

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"maintflow/access"
)

func newEntry(requestID string, actor access.Actor, action LogAction, details map[string]any, at time.Time) LogEntry {
	return LogEntry{
		RequestID:   requestID,
		ActorUserID: actor.UserID,
		Action:      action,
		Details:     details,
		CreatedAt:   at,
	}
}

func createdEntry(req Request, actor access.Actor) LogEntry {
	details := map[string]any{
		"title":       req.Title,
		"type":        req.Type,
		"priority":    req.Priority,
		"equipmentId": req.EquipmentID,
		"status":      req.Status,
	}
	if req.TeamID != nil {
		details["teamId"] = *req.TeamID
	}
	return newEntry(req.ID, actor, ActionCreated, details, req.CreatedAt)
}

func statusChangedEntry(req Request, ws WriteSet, actor access.Actor, at time.Time) LogEntry {
	details := map[string]any{
		"from": req.Status,
		"to":   ws.Status,
	}
	if ws.DurationMinutes != nil {
		details["durationMinutes"] = *ws.DurationMinutes
	}
	if ws.RepairNotes != nil {
		details["repairNotes"] = *ws.RepairNotes
	}
	if ws.SetTechnician && ws.TechnicianID != nil {
		details["technicianId"] = *ws.TechnicianID
		details["autoAssigned"] = true
	}
	if ws.ScrapEquipmentID != "" {
		details["equipmentScrapped"] = true
		details["equipmentId"] = ws.ScrapEquipmentID
	}
	return newEntry(req.ID, actor, ActionStatusChanged, details, at)
}

func assignmentEntry(req Request, technicianID *string, actor access.Actor, at time.Time) LogEntry {
	details := map[string]any{}
	if req.TechnicianID != nil {
		details["previousTechnicianId"] = *req.TechnicianID
	}
	if technicianID == nil {
		return newEntry(req.ID, actor, ActionUnassigned, details, at)
	}
	details["technicianId"] = *technicianID
	return newEntry(req.ID, actor, ActionAssigned, details, at)
}

func updatedEntry(req Request, changes map[string]any, actor access.Actor, at time.Time) LogEntry {
	return newEntry(req.ID, actor, ActionUpdated, changes, at)
}

// appendLog writes entry inside the caller's transaction. request_logs rows
// are never updated.
func appendLog(ctx context.Context, tx pgx.Tx, entry LogEntry) (LogEntry, error) {
	if entry.RequestID == "" {
		return LogEntry{}, fmt.Errorf("request: log entry missing request id")
	}
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	body, err := json.Marshal(details)
	if err != nil {
		return LogEntry{}, fmt.Errorf("request: marshal log details: %w", err)
	}

	var actor any
	if entry.ActorUserID != "" {
		actor = entry.ActorUserID
	}

	const q = `
INSERT INTO request_logs (request_id, actor_user_id, action, details, created_at)
VALUES ($1, $2::uuid, $3, $4::jsonb, $5)
RETURNING id
`
	if err := tx.QueryRow(ctx, q, entry.RequestID, actor, entry.Action, body, entry.CreatedAt).Scan(&entry.ID); err != nil {
		return LogEntry{}, fmt.Errorf("request: insert log: %w", err)
	}
	return entry, nil
}
