package domain

import (
	"errors"
	"fmt"
)

type ValidationKind string

const (
	MissingField ValidationKind = "missing_field"
	InvalidEmail ValidationKind = "invalid_email"
	InvalidDate  ValidationKind = "invalid_date"
	InvalidTime  ValidationKind = "invalid_time"
)

// ValidationError reports caller input that cannot be accepted as given.
type ValidationError struct {
	Field  string
	Kind   ValidationKind
	Reason string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case MissingField:
		return "Missing required field: " + e.Field
	case InvalidEmail:
		return "Invalid email format"
	case InvalidDate:
		return "Invalid date format"
	case InvalidTime:
		if e.Reason != "" {
			return "Invalid time: " + e.Reason
		}
		return "Invalid time format"
	}
	return fmt.Sprintf("invalid %s", e.Field)
}

var (
	ErrSlotConflict = errors.New("This time slot is already booked")
	ErrNotFound     = errors.New("No matching active appointment found")
)

// SlotConflictError means the slot already has a scheduled appointment.
type SlotConflictError struct {
	Date string
	Time string
}

func (e *SlotConflictError) Error() string { return ErrSlotConflict.Error() }

func (e *SlotConflictError) Is(target error) bool { return target == ErrSlotConflict }

// NotFoundError means no scheduled appointment matched a cancellation.
type NotFoundError struct {
	Email string
	Date  string
	Time  string
}

func (e *NotFoundError) Error() string { return ErrNotFound.Error() }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// PersistenceError wraps a storage fault. Its text is for logs only.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsPersistence(err error) bool {
	var p *PersistenceError
	return errors.As(err, &p)
}
