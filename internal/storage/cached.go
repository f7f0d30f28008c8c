// internal/storage/cached.go
package storage

import (
	"context"
	"encoding/json"

	"github.com/weftlabs/loom/internal/models"
	"github.com/weftlabs/loom/pkg/logger"
)

// Cache is the byte-level TTL cache pattern documents are kept in.
type Cache interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
}

// CachedStore is a read-through decorator over a PatternStore. Only whole
// pattern documents are cached; version history and executions always hit
// the backend. Cache trouble is logged and worked around, never surfaced.
type CachedStore struct {
	PatternStore
	cache Cache
}

func NewCachedStore(store PatternStore, cache Cache) *CachedStore {
	return &CachedStore{PatternStore: store, cache: cache}
}

func patternKey(patternID string) string {
	return "pattern/" + patternID
}

func (s *CachedStore) GetPattern(ctx context.Context, patternID string) (*models.Pattern, error) {
	if data, err := s.cache.Get(patternKey(patternID)); err != nil {
		logger.Warn("pattern cache read failed", "pattern_id", patternID, "error", err)
	} else if data != nil {
		var pattern models.Pattern
		if err := json.Unmarshal(data, &pattern); err == nil {
			return &pattern, nil
		}
		logger.Warn("dropping corrupt pattern cache entry", "pattern_id", patternID)
		s.invalidate(patternID)
	}

	pattern, err := s.PatternStore.GetPattern(ctx, patternID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(pattern); err == nil {
		if err := s.cache.Put(patternKey(patternID), data); err != nil {
			logger.Warn("pattern cache write failed", "pattern_id", patternID, "error", err)
		}
	}
	return pattern, nil
}

func (s *CachedStore) StorePattern(ctx context.Context, patternID, patternType string, config, metadata models.Payload) (*models.Pattern, error) {
	pattern, err := s.PatternStore.StorePattern(ctx, patternID, patternType, config, metadata)
	if err != nil {
		return nil, err
	}
	s.invalidate(patternID)
	return pattern, nil
}

func (s *CachedStore) UpdatePattern(ctx context.Context, patternID string, config, metadata models.Payload) (*models.Pattern, error) {
	pattern, err := s.PatternStore.UpdatePattern(ctx, patternID, config, metadata)
	if err != nil {
		return nil, err
	}
	s.invalidate(patternID)
	return pattern, nil
}

func (s *CachedStore) DeletePattern(ctx context.Context, patternID string) error {
	if err := s.PatternStore.DeletePattern(ctx, patternID); err != nil {
		return err
	}
	s.invalidate(patternID)
	return nil
}

// LinkPatterns invalidates the from side: the cached document carries the
// outgoing relationships.
func (s *CachedStore) LinkPatterns(ctx context.Context, fromID, toID, relType string, properties models.Payload) error {
	if err := s.PatternStore.LinkPatterns(ctx, fromID, toID, relType, properties); err != nil {
		return err
	}
	s.invalidate(fromID)
	return nil
}

func (s *CachedStore) CreatePatternVersion(ctx context.Context, patternID, versionTag string, config, metadata models.Payload) (*models.PatternVersion, error) {
	version, err := s.PatternStore.CreatePatternVersion(ctx, patternID, versionTag, config, metadata)
	if err != nil {
		return nil, err
	}
	s.invalidate(patternID)
	return version, nil
}

func (s *CachedStore) invalidate(patternID string) {
	if err := s.cache.Delete(patternKey(patternID)); err != nil {
		logger.Warn("pattern cache invalidation failed", "pattern_id", patternID, "error", err)
	}
}
