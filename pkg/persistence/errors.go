package persistence

import (
	"errors"
	"fmt"
)

var (
	ErrWebhookNotFound   = errors.New("webhook not found")
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrEventNotFound     = errors.New("event not found")
	ErrDuplicateEvent    = errors.New("event already recorded for delivery id")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrExecutionExists   = errors.New("execution already exists for workflow and event")
	ErrLeadNotFound      = errors.New("lead not found")
	ErrInvalidID         = errors.New("invalid identifier")
)

// RepositoryError wraps a storage error with the operation and entity it concerns.
type RepositoryError struct {
	Op     string
	Entity string
	ID     string
	Err    error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

func NewRepositoryError(op, entity, id string, err error) *RepositoryError {
	return &RepositoryError{Op: op, Entity: entity, ID: id, Err: err}
}

func IsWebhookNotFound(err error) bool {
	return errors.Is(err, ErrWebhookNotFound)
}

func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

func IsEventNotFound(err error) bool {
	return errors.Is(err, ErrEventNotFound)
}

func IsDuplicateEvent(err error) bool {
	return errors.Is(err, ErrDuplicateEvent)
}

func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

func IsExecutionExists(err error) bool {
	return errors.Is(err, ErrExecutionExists)
}

func IsLeadNotFound(err error) bool {
	return errors.Is(err, ErrLeadNotFound)
}

// IsNotFound reports whether err is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return IsWebhookNotFound(err) ||
		IsWorkflowNotFound(err) ||
		IsEventNotFound(err) ||
		IsExecutionNotFound(err) ||
		IsLeadNotFound(err)
}

func IsInvalidID(err error) bool {
	return errors.Is(err, ErrInvalidID)
}
