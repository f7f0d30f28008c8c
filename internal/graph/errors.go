// internal/graph/errors.go
package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a reference to a task id the graph does not hold.
	ErrNotFound = errors.New("task not found")

	// ErrCycle marks a dependency insertion that would make the graph
	// cyclic, or a cycle discovered during ordering.
	ErrCycle = errors.New("dependency cycle")
)

// NotFoundError names the missing task id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// CycleError names the rejected edge. The graph is unchanged when this is
// returned.
type CycleError struct {
	DependencyID string
	DependentID  string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency %s -> %s would create a cycle", e.DependencyID, e.DependentID)
}

func (e *CycleError) Unwrap() error { return ErrCycle }
