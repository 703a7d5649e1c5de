package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"maintflow/equipment"
	"maintflow/request"
)

type requestResponse struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	Type            string  `json:"type"`
	Status          string  `json:"status"`
	Priority        string  `json:"priority"`
	Category        string  `json:"category"`
	ScheduledDate   *string `json:"scheduledDate"`
	StartedAt       *string `json:"startedAt"`
	CompletedAt     *string `json:"completedAt"`
	DurationMinutes *int    `json:"durationMinutes"`
	RepairNotes     *string `json:"repairNotes"`
	EquipmentID     string  `json:"equipmentId"`
	TeamID          *string `json:"teamId"`
	TechnicianID    *string `json:"technicianId"`
	CreatedBy       string  `json:"createdBy"`
	CreatedAt       string  `json:"createdAt"`
	UpdatedAt       string  `json:"updatedAt"`
}

type logResponse struct {
	ID          int64          `json:"id"`
	ActorUserID string         `json:"actorUserId,omitempty"`
	Action      string         `json:"action"`
	Details     map[string]any `json:"details"`
	CreatedAt   string         `json:"createdAt"`
}

type createRequestBody struct {
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Type          string     `json:"type"`
	Priority      string     `json:"priority"`
	EquipmentID   string     `json:"equipmentId"`
	ScheduledDate *time.Time `json:"scheduledDate"`
}

type updateRequestBody struct {
	Title         *string    `json:"title"`
	Description   *string    `json:"description"`
	Priority      *string    `json:"priority"`
	ScheduledDate *time.Time `json:"scheduledDate"`
}

type transitionBody struct {
	Status          string  `json:"status"`
	DurationMinutes *int    `json:"durationMinutes"`
	RepairNotes     *string `json:"repairNotes"`
}

type assignBody struct {
	TechnicianID *string `json:"technicianId"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if body.EquipmentID != "" && uuid.Validate(body.EquipmentID) != nil {
		s.fail(w, r, fmt.Errorf("%w: %q", equipment.ErrNotFound, body.EquipmentID))
		return
	}

	req, err := s.requestService.Create(r.Context(), request.CreateParams{
		Title:         body.Title,
		Description:   body.Description,
		Type:          body.Type,
		Priority:      body.Priority,
		EquipmentID:   body.EquipmentID,
		ScheduledDate: body.ScheduledDate,
		Actor:         actorFrom(r),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestResponse(req))
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.requestService.Get(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(req))
}

func (s *Server) handleUpdateRequest(w http.ResponseWriter, r *http.Request) {
	var body updateRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	req, err := s.requestService.Update(r.Context(), request.UpdateParams{
		RequestID:     chi.URLParam(r, "id"),
		Title:         body.Title,
		Description:   body.Description,
		Priority:      body.Priority,
		ScheduledDate: body.ScheduledDate,
		Actor:         actorFrom(r),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(req))
}

func (s *Server) handleDeleteRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.requestService.Delete(r.Context(), chi.URLParam(r, "id"), actorFrom(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var body transitionBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	target, err := request.ParseStatus(body.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	req, err := s.requestService.Transition(r.Context(), request.TransitionParams{
		RequestID:       chi.URLParam(r, "id"),
		Target:          target,
		DurationMinutes: body.DurationMinutes,
		RepairNotes:     body.RepairNotes,
		Actor:           actorFrom(r),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(req))
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var body assignBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	req, err := s.requestService.Assign(r.Context(), request.AssignParams{
		RequestID:    chi.URLParam(r, "id"),
		TechnicianID: body.TechnicianID,
		Actor:        actorFrom(r),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(req))
}

func (s *Server) handleRequestLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.requestService.History(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	items := make([]logResponse, 0, len(logs))
	for _, e := range logs {
		items = append(items, logResponse{
			ID:          e.ID,
			ActorUserID: e.ActorUserID,
			Action:      string(e.Action),
			Details:     e.Details,
			CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func toRequestResponse(req request.Request) requestResponse {
	return requestResponse{
		ID:              req.ID,
		Title:           req.Title,
		Description:     req.Description,
		Type:            string(req.Type),
		Status:          string(req.Status),
		Priority:        string(req.Priority),
		Category:        req.Category,
		ScheduledDate:   formatTime(req.ScheduledDate),
		StartedAt:       formatTime(req.StartedAt),
		CompletedAt:     formatTime(req.CompletedAt),
		DurationMinutes: req.DurationMinutes,
		RepairNotes:     req.RepairNotes,
		EquipmentID:     req.EquipmentID,
		TeamID:          req.TeamID,
		TechnicianID:    req.TechnicianID,
		CreatedBy:       req.CreatedBy,
		CreatedAt:       req.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       req.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
