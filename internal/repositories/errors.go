package repositories

import (
	"errors"
	"fmt"
)

// StoreErrorKind categorises failures raised by non-Firestore stores.
type StoreErrorKind int

const (
	StoreErrorNotFound StoreErrorKind = iota + 1
	StoreErrorConflict
	StoreErrorUnavailable
)

// StoreError is the RepositoryError used by the in-memory registry.
type StoreError struct {
	Op   string
	Kind StoreErrorKind
	Err  error
}

var _ RepositoryError = (*StoreError)(nil)

// NewNotFoundError reports a missing entity.
func NewNotFoundError(op, format string, args ...any) *StoreError {
	return &StoreError{Op: op, Kind: StoreErrorNotFound, Err: fmt.Errorf(format, args...)}
}

// NewConflictError reports a failed precondition such as a stale expected status.
func NewConflictError(op, format string, args ...any) *StoreError {
	return &StoreError{Op: op, Kind: StoreErrorConflict, Err: fmt.Errorf(format, args...)}
}

// NewUnavailableError reports a transient backend failure.
func NewUnavailableError(op string, err error) *StoreError {
	if err == nil {
		err = errors.New("store unavailable")
	}
	return &StoreError{Op: op, Kind: StoreErrorUnavailable, Err: err}
}

func (e *StoreError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *StoreError) Unwrap() error       { return e.Err }
func (e *StoreError) IsNotFound() bool    { return e != nil && e.Kind == StoreErrorNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Kind == StoreErrorConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == StoreErrorUnavailable }

// AsRepositoryError extracts a RepositoryError from err at any depth.
func AsRepositoryError(err error) (RepositoryError, bool) {
	var repoErr RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr, true
	}
	return nil, false
}
