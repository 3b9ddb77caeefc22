package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrIllegalTransition   = errors.New("illegal transition")
	ErrNotClaimable        = errors.New("task not claimable")
	ErrClaimWindowExpired  = errors.New("claim window expired")
	ErrIneligible          = errors.New("ineligible")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrInvalidInput        = errors.New("invalid input")
	ErrAlreadyExists       = errors.New("already exists")
)

// TaskError attaches detail to one of the sentinel kinds above.
type TaskError struct {
	Kind error
	Msg  string
}

func (e *TaskError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *TaskError) Unwrap() error { return e.Kind }

func Errorf(kind error, format string, args ...any) error {
	return &TaskError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// IneligibleError carries the eligibility verdict back to the caller verbatim.
type IneligibleError struct {
	Reason     string
	Confidence float64
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrIneligible.Error(), e.Reason)
}

func (e *IneligibleError) Unwrap() error { return ErrIneligible }
