package model

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateTask  = errors.New("an active task already exists for this sale")
	ErrNotFound       = errors.New("not found")
	ErrInvalidState   = errors.New("invalid task state")
	ErrInvalidOptions = errors.New("invalid task options")
	ErrConfiguration  = errors.New("configuration error")
)

// TransportError is a failed or malformed vendor exchange.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("vendor %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("vendor %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PersistenceError is a failure of the task or account store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a PersistenceError. Domain sentinels pass through unchanged.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrDuplicateTask, ErrNotFound, ErrInvalidState} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return &PersistenceError{Op: op, Err: err}
}
