// internal/storage/memory/store.go
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/weftlabs/loom/internal/models"
	"github.com/weftlabs/loom/internal/storage"
)

// Store is a map-backed PatternStore with the same observable semantics as
// the database backends. It backs the "memory" driver for local development
// and serves as the store under test elsewhere in the tree.
type Store struct {
	mu         sync.RWMutex
	patterns   map[string]*models.Pattern
	versions   map[string][]*models.PatternVersion
	executions map[string]*models.ExecutionRecord
}

func NewStore() *Store {
	return &Store{
		patterns:   make(map[string]*models.Pattern),
		versions:   make(map[string][]*models.PatternVersion),
		executions: make(map[string]*models.ExecutionRecord),
	}
}

func (s *Store) Close(ctx context.Context) error { return nil }
func (s *Store) Ping(ctx context.Context) error  { return nil }

// clone round-trips a value through JSON so callers never share memory with
// the store, mirroring what a real backend's serialization does.
func clone[T any](v T) T {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func (s *Store) StorePattern(ctx context.Context, patternID, patternType string, config, metadata models.Payload) (*models.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	pattern := &models.Pattern{
		PatternID:   patternID,
		PatternType: patternType,
		Config:      clone(config),
		Metadata:    clone(metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing, ok := s.patterns[patternID]; ok {
		pattern.CreatedAt = existing.CreatedAt
		pattern.Relationships = existing.Relationships
	}
	s.patterns[patternID] = pattern
	return clone(pattern), nil
}

func (s *Store) GetPattern(ctx context.Context, patternID string) (*models.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pattern, ok := s.patterns[patternID]
	if !ok {
		return nil, &storage.NotFoundError{Kind: "pattern", ID: patternID}
	}
	return clone(pattern), nil
}

func (s *Store) LinkPatterns(ctx context.Context, fromID, toID, relType string, properties models.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.patterns[fromID]
	if !ok {
		return &storage.NotFoundError{Kind: "pattern", ID: fromID}
	}
	if _, ok := s.patterns[toID]; !ok {
		return &storage.NotFoundError{Kind: "pattern", ID: toID}
	}

	rel := models.Relationship{Type: relType, TargetID: toID, Properties: clone(properties)}
	for i, existing := range from.Relationships {
		if existing.Type == relType && existing.TargetID == toID {
			from.Relationships[i] = rel
			return nil
		}
	}
	from.Relationships = append(from.Relationships, rel)
	sort.Slice(from.Relationships, func(i, j int) bool {
		a, b := from.Relationships[i], from.Relationships[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.TargetID < b.TargetID
	})
	return nil
}

func (s *Store) SearchPatterns(ctx context.Context, patternType string, metadataFilters models.Payload) ([]*models.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*models.Pattern, 0)
	for _, pattern := range s.patterns {
		if patternType != "" && pattern.PatternType != patternType {
			continue
		}
		if !storage.MatchMetadata(pattern.Metadata, metadataFilters) {
			continue
		}
		results = append(results, clone(pattern))
	}
	sort.Slice(results, func(i, j int) bool {
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		}
		return results[i].PatternID < results[j].PatternID
	})
	return results, nil
}

func (s *Store) UpdatePattern(ctx context.Context, patternID string, config, metadata models.Payload) (*models.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pattern, ok := s.patterns[patternID]
	if !ok {
		return nil, &storage.NotFoundError{Kind: "pattern", ID: patternID}
	}
	if config != nil {
		pattern.Config = clone(config)
	}
	if metadata != nil {
		pattern.Metadata = clone(metadata)
	}
	pattern.UpdatedAt = time.Now().UTC()
	return clone(pattern), nil
}

func (s *Store) DeletePattern(ctx context.Context, patternID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patterns[patternID]; !ok {
		return &storage.NotFoundError{Kind: "pattern", ID: patternID}
	}
	delete(s.patterns, patternID)
	delete(s.versions, patternID)

	// Relationships pointing at the deleted pattern go with it; execution
	// records stay behind.
	for _, pattern := range s.patterns {
		kept := pattern.Relationships[:0]
		for _, rel := range pattern.Relationships {
			if rel.TargetID != patternID {
				kept = append(kept, rel)
			}
		}
		pattern.Relationships = kept
	}
	return nil
}

func (s *Store) GetPatternHistory(ctx context.Context, patternID string) ([]*models.PatternVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.patterns[patternID]; !ok {
		return nil, &storage.NotFoundError{Kind: "pattern", ID: patternID}
	}

	stored := s.versions[patternID]
	history := make([]*models.PatternVersion, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		history = append(history, clone(stored[i]))
	}
	return history, nil
}

func (s *Store) CreatePatternVersion(ctx context.Context, patternID, versionTag string, config, metadata models.Payload) (*models.PatternVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patterns[patternID]; !ok {
		return nil, &storage.NotFoundError{Kind: "pattern", ID: patternID}
	}

	version := &models.PatternVersion{
		VersionTag:     versionTag,
		Seq:            len(s.versions[patternID]) + 1,
		ConfigSnapshot: clone(config),
		Metadata:       clone(metadata),
		CreatedAt:      time.Now().UTC(),
	}
	s.versions[patternID] = append(s.versions[patternID], version)
	return clone(version), nil
}

func (s *Store) SaveExecution(ctx context.Context, record *models.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ExecutionID == "" {
		return &storage.StoreError{Op: "save execution", Err: fmt.Errorf("empty execution id")}
	}
	s.executions[record.ExecutionID] = clone(record)
	return nil
}

func (s *Store) GetExecution(ctx context.Context, executionID string) (*models.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.executions[executionID]
	if !ok {
		return nil, &storage.NotFoundError{Kind: "execution", ID: executionID}
	}
	return clone(record), nil
}

func (s *Store) RecentExecutions(ctx context.Context, patternID string, limit int) ([]*models.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.ExecutionRecord, 0)
	for _, record := range s.executions {
		if record.PatternID == patternID {
			matched = append(matched, clone(record))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CompletedAt.After(matched[j].CompletedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
