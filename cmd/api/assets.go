package main

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"maintflow/equipment"
	"maintflow/request"
	"maintflow/team"
)

type equipmentResponse struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	SerialNumber  string  `json:"serialNumber"`
	Category      string  `json:"category"`
	Status        string  `json:"status"`
	DefaultTeamID *string `json:"defaultTeamId"`
	CreatedAt     string  `json:"createdAt"`
}

type createEquipmentBody struct {
	Name          string  `json:"name"`
	SerialNumber  string  `json:"serialNumber"`
	Category      string  `json:"category"`
	DefaultTeamID *string `json:"defaultTeamId"`
}

type teamResponse struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Members   []memberResponse `json:"members"`
	CreatedAt string           `json:"createdAt"`
}

type memberResponse struct {
	UserID   string `json:"userId"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

func (s *Server) handleListEquipment(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.fail(w, r, fmt.Errorf("%w: limit must be a positive integer", request.ErrValidation))
			return
		}
		limit = parsed
	}

	items, err := s.equipmentStore.List(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out := make([]equipmentResponse, 0, len(items))
	for _, eq := range items {
		out = append(out, toEquipmentResponse(eq))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out, "total": len(out)})
}

func (s *Server) handleGetEquipment(w http.ResponseWriter, r *http.Request) {
	eq, err := s.equipmentStore.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEquipmentResponse(eq))
}

func (s *Server) handleCreateEquipment(w http.ResponseWriter, r *http.Request) {
	var body createEquipmentBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if body.DefaultTeamID != nil {
		if uuid.Validate(*body.DefaultTeamID) != nil {
			s.fail(w, r, fmt.Errorf("%w: defaultTeamId is not a valid identifier", request.ErrValidation))
			return
		}
		if _, err := s.teamStore.GetByID(r.Context(), *body.DefaultTeamID); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	eq, err := s.equipmentStore.Create(r.Context(), equipment.CreateParams{
		Name:          body.Name,
		SerialNumber:  body.SerialNumber,
		Category:      body.Category,
		DefaultTeamID: body.DefaultTeamID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEquipmentResponse(eq))
}

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	t, err := s.teamStore.Create(r.Context(), body.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTeamResponse(t, nil))
}

func (s *Server) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.teamStore.GetByID(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	members, err := s.teamStore.Members(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTeamResponse(t, members))
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if uuid.Validate(body.UserID) != nil {
		s.fail(w, r, fmt.Errorf("%w: userId is not a valid identifier", request.ErrValidation))
		return
	}

	if err := s.teamStore.AddMember(r.Context(), chi.URLParam(r, "id"), body.UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toEquipmentResponse(eq equipment.Equipment) equipmentResponse {
	return equipmentResponse{
		ID:            eq.ID,
		Name:          eq.Name,
		SerialNumber:  eq.SerialNumber,
		Category:      eq.Category,
		Status:        string(eq.Status),
		DefaultTeamID: eq.DefaultTeamID,
		CreatedAt:     eq.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toTeamResponse(t team.Team, members []team.Member) teamResponse {
	out := teamResponse{
		ID:        t.ID,
		Name:      t.Name,
		Members:   make([]memberResponse, 0, len(members)),
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
	}
	for _, m := range members {
		out.Members = append(out.Members, memberResponse{UserID: m.UserID, FullName: m.FullName, Role: string(m.Role)})
	}
	return out
}
