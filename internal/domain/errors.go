package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation failed")
	ErrConflict    = errors.New("conflict")
	ErrNoTransport = errors.New("no transport configuration")
)

// UnresolvableTransportError is returned when neither a pinned nor an active
// default transport configuration exists for an email.
type UnresolvableTransportError struct {
	EmailID  int64
	PinnedID *int64
}

func (e *UnresolvableTransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.PinnedID != nil {
		return fmt.Sprintf("email %d: pinned transport %d missing and no active default", e.EmailID, *e.PinnedID)
	}
	return fmt.Sprintf("email %d: no active transport configuration", e.EmailID)
}

func (e *UnresolvableTransportError) Unwrap() error {
	return ErrNoTransport
}
