package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Load when a workflow has no persisted state.
var ErrNotFound = errors.New("workflow state not found")

// StoreError wraps an error with the operation and workflow id involved,
// grounded on the teacher's FileError wrapper in internal/storage/errors.go.
type StoreError struct {
	Op         string
	WorkflowID string
	Err        error
}

func (e *StoreError) Error() string {
	if e.WorkflowID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.WorkflowID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func newStoreError(op, workflowID string, err error) *StoreError {
	return &StoreError{Op: op, WorkflowID: workflowID, Err: err}
}
