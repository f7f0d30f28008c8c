// internal/storage/store.go
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/weftlabs/loom/internal/models"
)

// ErrNotFound is returned when a referenced pattern or execution is absent.
var ErrNotFound = errors.New("not found")

// NotFoundError reports which entity a lookup missed. It unwraps to
// ErrNotFound.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// StoreError wraps a failed backend call. The store never retries internally;
// callers own retry policy.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// PatternStore is the persistence contract for patterns, their version
// history and execution records. Both database backends implement it and
// everything above consumes it through injection.
type PatternStore interface {
	// StorePattern upserts a pattern keyed by patternID. created_at is
	// stamped on first insert only; updated_at on every call.
	StorePattern(ctx context.Context, patternID, patternType string, config, metadata models.Payload) (*models.Pattern, error)

	// GetPattern returns the pattern including its outgoing relationships.
	GetPattern(ctx context.Context, patternID string) (*models.Pattern, error)

	// LinkPatterns upserts a typed relationship between two existing
	// patterns. Re-linking the same (from, to, type) updates the properties.
	LinkPatterns(ctx context.Context, fromID, toID, relType string, properties models.Payload) error

	// SearchPatterns filters by pattern type (empty matches all) and by
	// equality on top-level metadata keys, newest-first.
	SearchPatterns(ctx context.Context, patternType string, metadataFilters models.Payload) ([]*models.Pattern, error)

	// UpdatePattern partially updates config and/or metadata; a nil argument
	// leaves that field untouched. Always restamps updated_at.
	UpdatePattern(ctx context.Context, patternID string, config, metadata models.Payload) (*models.Pattern, error)

	// DeletePattern removes the pattern, its relationships and its version
	// history. Execution records referencing it are left in place.
	DeletePattern(ctx context.Context, patternID string) error

	// GetPatternHistory lists the pattern's versions newest-first.
	GetPatternHistory(ctx context.Context, patternID string) ([]*models.PatternVersion, error)

	// CreatePatternVersion appends an immutable version. The store assigns
	// the next sequence number atomically.
	CreatePatternVersion(ctx context.Context, patternID, versionTag string, config, metadata models.Payload) (*models.PatternVersion, error)

	// SaveExecution writes one finished execution record and links it to its
	// pattern when the pattern still exists.
	SaveExecution(ctx context.Context, record *models.ExecutionRecord) error

	// GetExecution returns a single execution record by id.
	GetExecution(ctx context.Context, executionID string) (*models.ExecutionRecord, error)

	// RecentExecutions returns up to limit executions of a pattern,
	// newest-first by completion time.
	RecentExecutions(ctx context.Context, patternID string, limit int) ([]*models.ExecutionRecord, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
