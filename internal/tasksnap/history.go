package tasksnap

import (
	"fmt"
	"time"
)

// Operation is one recorded invocation of a mutating command.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string // "running", "success" or "error"
	StartedAt  time.Time
	FinishedAt *time.Time
}

// OperationLog persists the operation history.
type OperationLog interface {
	// CreateOperation records a started operation and returns its id.
	CreateOperation(operation, parameters string) (*Operation, error)

	// FinishOperation records the outcome of an operation.
	FinishOperation(id int64, status string) error

	// ListOperations returns the most recent operations, newest first.
	ListOperations(limit int) ([]*Operation, error)
}

// History returns the most recent operations, newest first.
func (s *Service) History(limit int) ([]*Operation, error) {
	if s.history == nil {
		return nil, nil
	}
	ops, err := s.history.ListOperations(limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}
