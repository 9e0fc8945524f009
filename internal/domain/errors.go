package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("score validation failed")
	ErrStorage        = errors.New("storage failure")
	ErrConflict       = errors.New("conflicting operation in progress")
	ErrInvalidRequest = errors.New("invalid request")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrInternalError  = errors.New("internal server error")
)

// ValidationError reports the first rule check a candidate score failed.
type ValidationError struct {
	RuleID int64
	Check  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotFoundError reports a missing game, score, rule or ranking row.
type NotFoundError struct {
	Kind string
	ID   any
}

func (e *NotFoundError) Error() string {
	if e.ID == nil {
		return fmt.Sprintf("%s not found", e.Kind)
	}
	return fmt.Sprintf("%s %v not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// StorageError wraps a failure of the persistence layer.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// ConflictError is returned when a maintenance operation cannot take exclusive
// access to the state it must clear.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Reason
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// NewNotFound builds a NotFoundError.
func NewNotFound(kind string, id any) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// NewStorageError wraps err unless it already carries a domain classification.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStorage) || errors.Is(err, ErrConflict) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidationError checks if an error is a rejected score
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}
