package request

import (
	"fmt"
	"slices"
	"strings"
)

// Status is the lifecycle state of a maintenance request.
type Status string

const (
	StatusNew        Status = "NEW"
	StatusInProgress Status = "IN_PROGRESS"
	StatusRepaired   Status = "REPAIRED"
	StatusScrap      Status = "SCRAP"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusNew, StatusInProgress, StatusRepaired, StatusScrap}

// transitions is the complete edge table. Every status has an entry; an empty
// entry marks a terminal status.
var transitions = map[Status][]Status{
	StatusNew:        {StatusInProgress},
	StatusInProgress: {StatusRepaired, StatusScrap},
	StatusRepaired:   {},
	StatusScrap:      {},
}

// ParseStatus normalises s and returns the matching Status.
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
	}
	return status, nil
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// AllowedTargets returns the statuses reachable from s in one step.
func (s Status) AllowedTargets() []Status {
	return slices.Clone(transitions[s])
}

// IsTerminal reports whether s has no outgoing transitions.
func (s Status) IsTerminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransitionTo reports whether the table has the edge s -> to.
func (s Status) CanTransitionTo(to Status) bool {
	return slices.Contains(transitions[s], to)
}
