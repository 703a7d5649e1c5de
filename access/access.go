// Package access decides whether an actor may perform an action on a
// maintenance request. Decisions are driven by a declarative table mapping
// each role to the capabilities it holds; team membership, ownership and the
// current assignee narrow the scoped capabilities.
package access

import (
	"errors"
	"fmt"
	"slices"

	"maintflow/auth"
	"maintflow/team"
)

// ErrForbidden is returned for every role, membership or ownership failure.
var ErrForbidden = errors.New("access: forbidden")

// Capability is a permission grant held by a role.
type Capability string

const (
	CapCreate Capability = "request.create"

	CapReadAll  Capability = "request.read.all"
	CapReadTeam Capability = "request.read.team"
	CapReadOwn  Capability = "request.read.own"

	CapTransitionAll  Capability = "request.transition.all"
	CapTransitionTeam Capability = "request.transition.team"

	CapAssignAll  Capability = "request.assign.all"
	CapAssignSelf Capability = "request.assign.self"

	CapUpdateAll  Capability = "request.update.all"
	CapUpdateTeam Capability = "request.update.team"
	CapUpdateOwn  Capability = "request.update.own"

	CapDeleteAll Capability = "request.delete.all"
	CapDeleteOwn Capability = "request.delete.own"

	// CapWork marks users that may be assigned to a request as its technician.
	CapWork Capability = "request.work"

	// CapManageAssets covers registering equipment and maintaining teams.
	CapManageAssets Capability = "assets.manage"
	// CapManageUsers allows creating accounts with any role.
	CapManageUsers Capability = "users.manage"
)

// Action is an operation on a request that needs a decision.
type Action string

const (
	ActionCreate     Action = "create"
	ActionRead       Action = "read"
	ActionUpdate     Action = "update"
	ActionTransition Action = "transition"
	ActionAssign     Action = "assign"
	ActionDelete     Action = "delete"
)

// Actor is the authenticated caller.
type Actor struct {
	UserID string
	Role   auth.Role
}

// Subject carries the facts about the target request that scoped
// capabilities depend on.
type Subject struct {
	CreatorID    string
	Pending      bool // request is still NEW
	Members      []team.Member
	TechnicianID *string
	// AssigneeID is the proposed technician for ActionAssign; nil unassigns.
	AssigneeID *string
}

// Policy maps each role to its capabilities.
type Policy map[auth.Role][]Capability

var defaultPolicy = Policy{
	auth.RoleAdmin: {
		CapCreate, CapReadAll, CapTransitionAll, CapAssignAll, CapUpdateAll, CapDeleteAll,
		CapManageAssets, CapManageUsers,
	},
	auth.RoleManager: {
		CapCreate, CapReadAll, CapTransitionAll, CapAssignAll, CapUpdateAll, CapDeleteAll,
		CapManageAssets,
	},
	auth.RoleTechnician: {
		CapCreate, CapReadTeam, CapReadOwn, CapTransitionTeam, CapAssignSelf,
		CapUpdateTeam, CapUpdateOwn, CapDeleteOwn, CapWork,
	},
	auth.RoleRequester: {
		CapCreate, CapReadOwn, CapUpdateOwn, CapDeleteOwn,
	},
}

// DefaultPolicy returns a copy of the built-in role table.
func DefaultPolicy() Policy {
	p := make(Policy, len(defaultPolicy))
	for role, caps := range defaultPolicy {
		p[role] = slices.Clone(caps)
	}
	return p
}

// Can reports whether role holds capability.
func (p Policy) Can(role auth.Role, capability Capability) bool {
	return slices.Contains(p[role], capability)
}

// CanWork reports whether members of role may be assigned as technicians.
func (p Policy) CanWork(role auth.Role) bool {
	return p.Can(role, CapWork)
}

// Authorize returns nil when actor may perform action on subject and an error
// wrapping ErrForbidden otherwise.
func (p Policy) Authorize(actor Actor, action Action, subject Subject) error {
	if actor.UserID == "" {
		return fmt.Errorf("%w: anonymous actor", ErrForbidden)
	}
	if _, ok := p[actor.Role]; !ok {
		return fmt.Errorf("%w: unknown role %q", ErrForbidden, actor.Role)
	}

	var allowed bool
	switch action {
	case ActionCreate:
		allowed = p.Can(actor.Role, CapCreate)
	case ActionRead:
		allowed = p.Can(actor.Role, CapReadAll) ||
			(p.Can(actor.Role, CapReadOwn) && subject.CreatorID == actor.UserID) ||
			(p.Can(actor.Role, CapReadTeam) && (subject.member(actor) || subject.assignedTo(actor)))
	case ActionTransition:
		allowed = p.Can(actor.Role, CapTransitionAll) ||
			(p.Can(actor.Role, CapTransitionTeam) && subject.member(actor) && subject.freeFor(actor))
	case ActionAssign:
		allowed = p.Can(actor.Role, CapAssignAll) ||
			(p.Can(actor.Role, CapAssignSelf) && subject.member(actor) && subject.freeFor(actor) && subject.selfOnly(actor))
	case ActionUpdate:
		allowed = p.Can(actor.Role, CapUpdateAll) ||
			(p.Can(actor.Role, CapUpdateTeam) && subject.member(actor) && subject.freeFor(actor)) ||
			(p.Can(actor.Role, CapUpdateOwn) && subject.CreatorID == actor.UserID && subject.Pending)
	case ActionDelete:
		allowed = p.Can(actor.Role, CapDeleteAll) ||
			(p.Can(actor.Role, CapDeleteOwn) && subject.CreatorID == actor.UserID)
	default:
		return fmt.Errorf("%w: unknown action %q", ErrForbidden, action)
	}

	if !allowed {
		return fmt.Errorf("%w: %s may not %s this request", ErrForbidden, actor.Role, action)
	}
	return nil
}

// Authorize evaluates the default policy.
func Authorize(actor Actor, action Action, subject Subject) error {
	return defaultPolicy.Authorize(actor, action, subject)
}

func (s Subject) member(actor Actor) bool {
	return team.Includes(s.Members, actor.UserID)
}

func (s Subject) assignedTo(actor Actor) bool {
	return s.TechnicianID != nil && *s.TechnicianID == actor.UserID
}

// freeFor is true when nobody else already owns the work.
func (s Subject) freeFor(actor Actor) bool {
	return s.TechnicianID == nil || *s.TechnicianID == actor.UserID
}

// selfOnly is true when the proposed assignee is the actor, or when the actor
// releases their own assignment.
func (s Subject) selfOnly(actor Actor) bool {
	if s.AssigneeID == nil {
		return s.assignedTo(actor) || s.TechnicianID == nil
	}
	return *s.AssigneeID == actor.UserID
}
