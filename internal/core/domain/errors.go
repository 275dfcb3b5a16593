package domain

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrStorage       = errors.New("metrics storage failure")
	ErrSinkClosed    = errors.New("sink is closed")
	ErrInvalidRecord = errors.New("invalid call record")
	ErrUnsupported   = errors.New("not supported by this sink")

	ErrInvalidIdentifier = errors.New("invalid SQL identifier")
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateIdentifier checks that name can be spliced into DDL unquoted.
func ValidateIdentifier(name string) error {
	if !identifierRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// StorageError reports a failed read or write against a sink. It matches
// ErrStorage with errors.Is.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorage, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// NewStorageError wraps err as a StorageError for op. It returns nil for a nil err.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
