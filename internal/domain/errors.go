package domain

import (
	"errors"
	"fmt"
)

var (
	ErrLGNotFound          = errors.New("guarantee not found")
	ErrApprovalNotFound    = errors.New("approval request not found")
	ErrInstructionNotFound = errors.New("instruction not found")
	ErrContactNotFound     = errors.New("owner contact not found")
)

// ValidationError reports bad input shape: missing mandatory document,
// amount out of range, malformed payload. Never retried.
type ValidationError struct {
	Rule string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Rule
}

func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Rule: fmt.Sprintf(format, args...)}
}

// PreconditionError reports a state rule violation: wrong LG status,
// cancellation window exceeded, conflicting pending approval. The caller
// must resolve the condition before retrying.
type PreconditionError struct {
	Rule string
}

func (e *PreconditionError) Error() string {
	return "precondition: " + e.Rule
}

func Preconditionf(format string, args ...interface{}) error {
	return &PreconditionError{Rule: fmt.Sprintf(format, args...)}
}

// ConcurrencyConflict reports live-state drift detected at approval time.
type ConcurrencyConflict struct {
	Detail string
	Cause  error
}

func (e *ConcurrencyConflict) Error() string {
	return "state drift: " + e.Detail
}

func (e *ConcurrencyConflict) Unwrap() error { return e.Cause }

// CollaboratorFailure wraps an error from an external collaborator
// (renderer, document store, notifier).
type CollaboratorFailure struct {
	Op  string
	Err error
}

func (e *CollaboratorFailure) Error() string {
	return fmt.Sprintf("collaborator %s: %v", e.Op, e.Err)
}

func (e *CollaboratorFailure) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsPrecondition(err error) bool {
	var p *PreconditionError
	return errors.As(err, &p)
}

func IsConflict(err error) bool {
	var c *ConcurrencyConflict
	return errors.As(err, &c)
}
