package request

import (
	"fmt"
	"strings"
)

// Payload carries the optional data a transition may supply.
type Payload struct {
	DurationMinutes *int
	RepairNotes     *string
}

// Validate checks a proposed move from -> to against the transition table and
// the per-target payload rules. A move to the current status is always valid
// and is treated by callers as a no-op.
func Validate(from, to Status, payload Payload) error {
	if from == to {
		return nil
	}

	if !from.CanTransitionTo(to) {
		if from.IsTerminal() {
			return fmt.Errorf("%w: %s accepts no further transitions", ErrTerminalState, from)
		}
		return fmt.Errorf("%w: %s -> %s (allowed: %s)", ErrInvalidTransition, from, to, joinStatuses(from.AllowedTargets()))
	}

	if to == StatusRepaired && (payload.DurationMinutes == nil || *payload.DurationMinutes <= 0) {
		return fmt.Errorf("%w: durationMinutes must be greater than zero", ErrMissingDuration)
	}

	return nil
}

func joinStatuses(statuses []Status) string {
	if len(statuses) == 0 {
		return "none"
	}
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}
