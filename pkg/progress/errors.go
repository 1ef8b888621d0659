package progress

import (
	"errors"
	"fmt"
)

// ErrPersistence marks failures to read or write progress.
var ErrPersistence = errors.New("progress persistence failed")

// PersistenceError wraps a backend failure with the operation that failed.
type PersistenceError struct {
	Backend     string
	Op          string
	RunKey      string
	PartitionID string
	Err         error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	if e.PartitionID != "" {
		return fmt.Sprintf("%s %s progress (run %s, partition %s): %v", e.Backend, e.Op, e.RunKey, e.PartitionID, e.Err)
	}
	return fmt.Sprintf("%s %s progress (run %s): %v", e.Backend, e.Op, e.RunKey, e.Err)
}

// Unwrap exposes the backend error.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrPersistence) true for every PersistenceError.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
