package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by every *GuidelineNotFoundError via errors.Is.
var ErrNotFound = errors.New("storage: not found")

// ErrReadOnly is wrapped in the *RepositoryError returned by mutations on a
// read-only repository.
var ErrReadOnly = errors.New("storage: repository is read-only")

// GuidelineNotFoundError is returned when no guideline has the given id.
type GuidelineNotFoundError struct {
	ID string
}

func (e *GuidelineNotFoundError) Error() string {
	return fmt.Sprintf("storage: guideline %q not found", e.ID)
}

func (e *GuidelineNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// GuidelineConflictError is returned when an update carries a version other
// than the stored one, or when the storage compare-and-swap rejects the
// write because another writer got there first.
type GuidelineConflictError struct {
	ID       string
	Expected int
	Actual   int
}

func (e *GuidelineConflictError) Error() string {
	return fmt.Sprintf("storage: guideline %q version conflict: expected %d, actual %d", e.ID, e.Expected, e.Actual)
}

// RepositoryError wraps a transport or storage failure.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is or wraps a *GuidelineNotFoundError.
func IsNotFound(err error) bool {
	var nf *GuidelineNotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is or wraps a *GuidelineConflictError.
func IsConflict(err error) bool {
	var ce *GuidelineConflictError
	return errors.As(err, &ce)
}

// IsReadOnly reports whether err came from a read-only repository.
func IsReadOnly(err error) bool {
	return errors.Is(err, ErrReadOnly)
}

func repoErr(op string, err error) error {
	return &RepositoryError{Op: op, Err: err}
}
