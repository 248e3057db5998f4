package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrVersionConflict  = errors.New("version conflict")
	ErrTokenInvalid     = errors.New("approval token invalid")
	ErrTokenExpired     = errors.New("approval token expired")
	ErrAlreadyProcessed = errors.New("approval already processed")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrRoleMismatch     = errors.New("role mismatch")
	ErrGateRequired     = errors.New("gate required for security role")

	// ErrEntryWindowClosed rejects a check-in attempted after the entry
	// deadline passed but before the expiry sweep caught up.
	ErrEntryWindowClosed = errors.New("entry window closed")
)

// InvalidTransitionError rejects a trigger the state machine does not allow
// from the visitor's current status. It always carries that status so the
// caller can see what it raced against.
type InvalidTransitionError struct {
	Trigger string
	Status  VisitorStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %q from status %s", e.Trigger, e.Status)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}

// WrongGateError rejects a gate-scoped action issued from a gate other than
// the one the visitor is bound to.
type WrongGateError struct {
	Want string
	Got  string
}

func (e *WrongGateError) Error() string {
	return fmt.Sprintf("wrong gate: visitor bound to %q, request from %q", e.Want, e.Got)
}

func IsWrongGate(err error) bool {
	var wge *WrongGateError
	return errors.As(err, &wge)
}

// ValidationError reports a malformed or missing field at creation time.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
