package request

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"maintflow/access"
	"maintflow/equipment"
	"maintflow/team"
)

const maxTitleLength = 200

// EquipmentReader reads the equipment a request points at.
type EquipmentReader interface {
	GetByID(ctx context.Context, id string) (equipment.Equipment, error)
}

// MemberLister reads team membership together with member roles.
type MemberLister interface {
	Members(ctx context.Context, teamID string) ([]team.Member, error)
}

// Service is the lifecycle engine. Every operation authorizes, validates,
// plans the full write set and hands it to the repository as one commit;
// a rejection at any step leaves storage untouched.
type Service struct {
	repo      Repository
	equipment EquipmentReader
	teams     MemberLister
	policy    access.Policy
	effects   coordinator
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewService(repo Repository, equipment EquipmentReader, teams MemberLister) *Service {
	policy := access.DefaultPolicy()
	return &Service{
		repo:      repo,
		equipment: equipment,
		teams:     teams,
		policy:    policy,
		effects:   coordinator{policy: policy},
		log:       logrus.StandardLogger(),
		now:       time.Now,
	}
}

func (s *Service) WithLogger(log logrus.FieldLogger) *Service {
	if log != nil {
		s.log = log
	}
	return s
}

func (s *Service) WithPolicy(policy access.Policy) *Service {
	s.policy = policy
	s.effects = coordinator{policy: policy}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Policy exposes the role table the service authorizes against.
func (s *Service) Policy() access.Policy {
	return s.policy
}

// Create opens a NEW request against non-scrapped equipment. Category and
// team are copied from the equipment.
func (s *Service) Create(ctx context.Context, params CreateParams) (Request, error) {
	const op = "create"

	if err := s.policy.Authorize(params.Actor, access.ActionCreate, access.Subject{}); err != nil {
		return Request{}, s.reject(op, params.Actor, "", err)
	}

	title, err := normaliseTitle(params.Title)
	if err != nil {
		return Request{}, s.reject(op, params.Actor, "", err)
	}
	typ, err := parseType(params.Type)
	if err != nil {
		return Request{}, s.reject(op, params.Actor, "", err)
	}
	priority, err := parsePriority(params.Priority)
	if err != nil {
		return Request{}, s.reject(op, params.Actor, "", err)
	}
	if typ == TypePreventive && params.ScheduledDate == nil {
		return Request{}, s.reject(op, params.Actor, "", fmt.Errorf("%w: preventive requests need a scheduled date", ErrValidation))
	}
	if strings.TrimSpace(params.EquipmentID) == "" {
		return Request{}, s.reject(op, params.Actor, "", fmt.Errorf("%w: equipment id required", ErrValidation))
	}

	eq, err := s.equipment.GetByID(ctx, params.EquipmentID)
	if err != nil {
		return Request{}, s.reject(op, params.Actor, "", fmt.Errorf("request: load equipment: %w", err))
	}
	if eq.Scrapped() {
		return Request{}, s.reject(op, params.Actor, "", fmt.Errorf("%w: equipment %s is scrapped", ErrValidation, eq.ID))
	}

	now := s.clock()
	req := Request{
		Title:         title,
		Description:   strings.TrimSpace(params.Description),
		Type:          typ,
		Status:        StatusNew,
		Priority:      priority,
		Category:      eq.Category,
		ScheduledDate: params.ScheduledDate,
		EquipmentID:   eq.ID,
		TeamID:        eq.DefaultTeamID,
		CreatedBy:     params.Actor.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	created, err := s.repo.Create(ctx, req, eq.Status, createdEntry(req, params.Actor))
	if err != nil {
		return Request{}, s.reject(op, params.Actor, "", err)
	}

	s.fields(op, params.Actor, created.ID).WithField("equipment_id", eq.ID).Info("request created")
	return created, nil
}

// Get returns the request if actor may read it.
func (s *Service) Get(ctx context.Context, id string, actor access.Actor) (Request, error) {
	req, _, err := s.load(ctx, id, actor, access.ActionRead, nil)
	if err != nil {
		return Request{}, s.reject("get", actor, id, err)
	}
	return req, nil
}

// History returns the request's log entries, oldest first.
func (s *Service) History(ctx context.Context, id string, actor access.Actor) ([]LogEntry, error) {
	if _, _, err := s.load(ctx, id, actor, access.ActionRead, nil); err != nil {
		return nil, s.reject("history", actor, id, err)
	}
	logs, err := s.repo.Logs(ctx, id)
	if err != nil {
		return nil, s.reject("history", actor, id, err)
	}
	return logs, nil
}

// Transition moves a request to params.Target. Moving to the current status
// is a no-op: nothing is written and nothing is logged.
func (s *Service) Transition(ctx context.Context, params TransitionParams) (Request, error) {
	const op = "transition"
	actor := params.Actor

	if !params.Target.Valid() {
		return Request{}, s.reject(op, actor, params.RequestID, fmt.Errorf("%w: unknown status %q", ErrValidation, params.Target))
	}

	req, members, err := s.load(ctx, params.RequestID, actor, access.ActionTransition, nil)
	if err != nil {
		return Request{}, s.reject(op, actor, params.RequestID, err)
	}

	if req.Status == params.Target {
		s.log.WithFields(logrus.Fields{"request_id": req.ID, "actor_id": actor.UserID, "status": req.Status}).
			Debug("transition to current status ignored")
		return req, nil
	}

	payload := Payload{DurationMinutes: params.DurationMinutes, RepairNotes: params.RepairNotes}
	if err := Validate(req.Status, params.Target, payload); err != nil {
		return Request{}, s.reject(op, actor, req.ID, err)
	}
	if params.DurationMinutes != nil && *params.DurationMinutes <= 0 {
		return Request{}, s.reject(op, actor, req.ID, fmt.Errorf("%w: durationMinutes must be greater than zero", ErrValidation))
	}

	ws := s.effects.planTransition(req, params.Target, payload, actor, members, s.clock())
	updated, err := s.repo.Commit(ctx, ws)
	if err != nil {
		return Request{}, s.reject(op, actor, req.ID, err)
	}

	entry := s.fields(op, actor, updated.ID).WithFields(logrus.Fields{"from": req.Status, "to": updated.Status})
	if ws.ScrapEquipmentID != "" {
		entry = entry.WithField("equipment_scrapped", ws.ScrapEquipmentID)
	}
	if ws.SetTechnician {
		entry = entry.WithField("auto_assigned", true)
	}
	entry.Info("request status changed")
	return updated, nil
}

// Assign sets or clears the request's technician. Setting the technician it
// already has is a no-op. Terminal requests accept it too: only their status
// is frozen.
func (s *Service) Assign(ctx context.Context, params AssignParams) (Request, error) {
	const op = "assign"
	actor := params.Actor

	req, members, err := s.load(ctx, params.RequestID, actor, access.ActionAssign, params.TechnicianID)
	if err != nil {
		return Request{}, s.reject(op, actor, params.RequestID, err)
	}

	if params.TechnicianID != nil {
		if err := s.checkAssignee(req, members, *params.TechnicianID); err != nil {
			return Request{}, s.reject(op, actor, req.ID, err)
		}
	}

	if sameID(req.TechnicianID, params.TechnicianID) {
		return req, nil
	}

	ws := s.effects.planAssignment(req, params.TechnicianID, actor, s.clock())
	updated, err := s.repo.Commit(ctx, ws)
	if err != nil {
		return Request{}, s.reject(op, actor, req.ID, err)
	}

	s.fields(op, actor, updated.ID).WithField("action", ws.Log.Action).Info("request assignment changed")
	return updated, nil
}

// Update edits descriptive fields of a non-terminal request.
func (s *Service) Update(ctx context.Context, params UpdateParams) (Request, error) {
	const op = "update"
	actor := params.Actor

	req, _, err := s.load(ctx, params.RequestID, actor, access.ActionUpdate, nil)
	if err != nil {
		return Request{}, s.reject(op, actor, params.RequestID, err)
	}
	if req.Status.IsTerminal() {
		return Request{}, s.reject(op, actor, req.ID, fmt.Errorf("%w: %s requests cannot be edited", ErrTerminalState, req.Status))
	}

	var edits fieldEdits
	if params.Title != nil {
		title, err := normaliseTitle(*params.Title)
		if err != nil {
			return Request{}, s.reject(op, actor, req.ID, err)
		}
		edits.title = &title
	}
	if params.Description != nil {
		desc := strings.TrimSpace(*params.Description)
		edits.description = &desc
	}
	if params.Priority != nil {
		p, err := parsePriority(*params.Priority)
		if err != nil {
			return Request{}, s.reject(op, actor, req.ID, err)
		}
		edits.priority = &p
	}
	edits.scheduledDate = params.ScheduledDate

	ws, changed := s.effects.planUpdate(req, edits, actor, s.clock())
	if !changed {
		return req, nil
	}

	updated, err := s.repo.Commit(ctx, ws)
	if err != nil {
		return Request{}, s.reject(op, actor, req.ID, err)
	}

	s.fields(op, actor, updated.ID).Info("request updated")
	return updated, nil
}

// Delete removes a request that is still NEW, together with its history.
func (s *Service) Delete(ctx context.Context, id string, actor access.Actor) error {
	const op = "delete"

	req, _, err := s.load(ctx, id, actor, access.ActionDelete, nil)
	if err != nil {
		return s.reject(op, actor, id, err)
	}
	if req.Status != StatusNew {
		return s.reject(op, actor, id, fmt.Errorf("%w: only NEW requests can be deleted (status %s)", ErrInvalidState, req.Status))
	}

	if err := s.repo.Delete(ctx, id, StatusNew); err != nil {
		if errors.Is(err, ErrConflict) {
			return s.reject(op, actor, id, fmt.Errorf("%w: request left NEW while deleting", ErrInvalidState))
		}
		return s.reject(op, actor, id, err)
	}

	s.fields(op, actor, id).Info("request deleted")
	return nil
}

// load fetches the request and its team and runs the gate for action.
func (s *Service) load(ctx context.Context, id string, actor access.Actor, action access.Action, assignee *string) (Request, []team.Member, error) {
	if strings.TrimSpace(id) == "" {
		return Request{}, nil, fmt.Errorf("%w: request id required", ErrValidation)
	}

	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return Request{}, nil, err
	}

	members, err := s.members(ctx, req.TeamID)
	if err != nil {
		return Request{}, nil, err
	}

	subject := access.Subject{
		CreatorID:    req.CreatedBy,
		Pending:      req.Status == StatusNew,
		Members:      members,
		TechnicianID: req.TechnicianID,
		AssigneeID:   assignee,
	}
	if err := s.policy.Authorize(actor, action, subject); err != nil {
		return Request{}, nil, err
	}
	return req, members, nil
}

func (s *Service) members(ctx context.Context, teamID *string) ([]team.Member, error) {
	if teamID == nil {
		return nil, nil
	}
	members, err := s.teams.Members(ctx, *teamID)
	if err != nil {
		if errors.Is(err, team.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("request: load team members: %w", err)
	}
	return members, nil
}

func (s *Service) checkAssignee(req Request, members []team.Member, technicianID string) error {
	if req.TeamID == nil {
		return fmt.Errorf("%w: request has no team to assign from", ErrValidation)
	}
	m, ok := team.Find(members, technicianID)
	if !ok {
		return fmt.Errorf("%w: user %s is not a member of team %s", ErrValidation, technicianID, *req.TeamID)
	}
	if !s.policy.CanWork(m.Role) {
		return fmt.Errorf("%w: user %s (%s) cannot be assigned as technician", ErrValidation, technicianID, m.Role)
	}
	return nil
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Service) fields(op string, actor access.Actor, requestID string) *logrus.Entry {
	return s.log.WithFields(logrus.Fields{
		"op":         op,
		"request_id": requestID,
		"actor_id":   actor.UserID,
		"actor_role": actor.Role,
	})
}

// reject logs a failed operation and returns err unchanged. Business-rule
// failures are expected traffic and log at debug; anything else is an error.
func (s *Service) reject(op string, actor access.Actor, requestID string, err error) error {
	entry := s.fields(op, actor, requestID)
	if kind := KindOf(err); kind != KindInternal {
		entry.WithFields(logrus.Fields{"kind": kind, "error": err.Error()}).Debug("request operation rejected")
		return err
	}
	entry.WithError(err).Error("request operation failed")
	return err
}

func normaliseTitle(title string) (string, error) {
	t := strings.TrimSpace(title)
	if t == "" {
		return "", fmt.Errorf("%w: title required", ErrValidation)
	}
	if len([]rune(t)) > maxTitleLength {
		return "", fmt.Errorf("%w: title longer than %d characters", ErrValidation, maxTitleLength)
	}
	return t, nil
}

func sameID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
