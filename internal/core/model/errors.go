package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("instance not found")
	ErrProxyOnly        = errors.New("only an entity proxy is stored")
	ErrDuplicateGUID    = errors.New("guid already has a current version")
	ErrUnknownType      = errors.New("unknown type")
	ErrInvalidCriteria  = errors.New("invalid search criteria")
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrVersionConflict reports a lost race on a conditional write.
	ErrVersionConflict = errors.New("version conflict")
)

// InstanceError attaches the operation and offending GUID to a sentinel.
type InstanceError struct {
	Op   string
	GUID string
	Err  error
}

func (e *InstanceError) Error() string {
	if e.GUID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.GUID, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

// Errorf builds an InstanceError whose chain ends at sentinel.
func Errorf(op, guid string, sentinel error, format string, args ...any) error {
	if format == "" {
		return &InstanceError{Op: op, GUID: guid, Err: sentinel}
	}
	return &InstanceError{Op: op, GUID: guid, Err: fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))}
}

// Unavailable wraps an engine failure so callers can test ErrStoreUnavailable
// while keeping the cause.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// UnknownType reports a type or property resolution failure.
func UnknownType(name string) error {
	return fmt.Errorf("%w: %s", ErrUnknownType, name)
}
