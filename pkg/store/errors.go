package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("document not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnavailable      = errors.New("store unavailable")
	ErrClosed           = errors.New("store closed")
)

// Error records the operation and document a store failure belongs to.
type Error struct {
	Op  string
	Ref Ref
	Err error
}

func (e *Error) Error() string {
	if e.Ref.ID == "" {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.Ref.Collection, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// wrapErr classifies backend failures: not-found, permission and closed errors
// keep their sentinel; everything else is reported as unavailable.
func wrapErr(op string, ref Ref, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrClosed):
		return &Error{Op: op, Ref: ref, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Error{Op: op, Ref: ref, Err: err}
	default:
		return &Error{Op: op, Ref: ref, Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
