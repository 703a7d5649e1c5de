package request

import (
	"errors"

	"maintflow/access"
	"maintflow/auth"
	"maintflow/equipment"
	"maintflow/team"
)

var (
	ErrNotFound          = errors.New("request: not found")
	ErrValidation        = errors.New("request: validation failed")
	ErrInvalidTransition = errors.New("request: invalid transition")
	ErrTerminalState     = errors.New("request: terminal state")
	ErrMissingDuration   = errors.New("request: repair duration required")
	ErrConflict          = errors.New("request: modified concurrently")
	ErrInvalidState      = errors.New("request: operation not allowed in current state")

	// ErrForbidden is the gate's error, re-exported so callers need a single import.
	ErrForbidden = access.ErrForbidden
)

// Kind is the machine-readable classification of an error.
type Kind string

const (
	KindValidation        Kind = "VALIDATION_ERROR"
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	KindTerminalState     Kind = "TERMINAL_STATE"
	KindMissingDuration   Kind = "MISSING_DURATION"
	KindForbidden         Kind = "FORBIDDEN"
	KindNotFound          Kind = "NOT_FOUND"
	KindConflict          Kind = "CONFLICT"
	KindDuplicate         Kind = "DUPLICATE"
	KindInvalidState      Kind = "INVALID_STATE"
	KindInternal          Kind = "INTERNAL"
)

// KindOf classifies err. Anything unrecognised is KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation),
		errors.Is(err, equipment.ErrInvalid),
		errors.Is(err, team.ErrInvalid),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrMissingFields),
		errors.Is(err, auth.ErrInvalidRole):
		return KindValidation
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrTerminalState):
		return KindTerminalState
	case errors.Is(err, ErrMissingDuration):
		return KindMissingDuration
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrNotFound),
		errors.Is(err, equipment.ErrNotFound),
		errors.Is(err, team.ErrNotFound),
		errors.Is(err, team.ErrUnknownUser),
		errors.Is(err, auth.ErrUserNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, equipment.ErrDuplicateSerial),
		errors.Is(err, auth.ErrDuplicateEmail),
		errors.Is(err, team.ErrDuplicateName),
		errors.Is(err, team.ErrAlreadyMember):
		return KindDuplicate
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	default:
		return KindInternal
	}
}
