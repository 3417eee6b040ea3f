package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error implements repositories.RepositoryError for Firestore backed repositories.
type Error struct {
	op   string
	err  error
	code codes.Code
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.err }

// IsNotFound reports whether the error represents a missing document.
func (e *Error) IsNotFound() bool {
	return e != nil && e.code == codes.NotFound
}

// IsConflict reports whether the error represents a conflicting write, including a
// transaction that exhausted its attempts under contention.
func (e *Error) IsConflict() bool {
	if e == nil {
		return false
	}
	switch e.code {
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return true
	}
	return false
}

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *Error) IsUnavailable() bool {
	if e == nil {
		return false
	}
	switch e.code {
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal:
		return true
	}
	return false
}

// WrapError annotates Firestore errors with repository semantics. Context cancellations are
// passed through untouched.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var repoErr *Error
	if errors.As(err, &repoErr) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		// errors raised by callers inside a transaction keep their identity
		return err
	}
	return &Error{op: op, err: err, code: st.Code()}
}

// IsAlreadyExists reports whether err, at any depth, is a create that hit an existing document.
func IsAlreadyExists(err error) bool {
	var repoErr *Error
	return errors.As(err, &repoErr) && repoErr.code == codes.AlreadyExists
}

// IsUnavailable reports whether err, at any depth, is a transient Firestore outage.
func IsUnavailable(err error) bool {
	var repoErr *Error
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
