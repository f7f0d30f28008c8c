// internal/storage/cached_test.go
package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/loom/internal/models"
)

// countingStore implements only the methods the decorator exercises; the
// embedded nil interface panics on anything else, which is what we want.
type countingStore struct {
	PatternStore
	pattern *models.Pattern
	gets    int
}

func (s *countingStore) GetPattern(ctx context.Context, patternID string) (*models.Pattern, error) {
	s.gets++
	if s.pattern == nil || s.pattern.PatternID != patternID {
		return nil, &NotFoundError{Kind: "pattern", ID: patternID}
	}
	return s.pattern, nil
}

func (s *countingStore) StorePattern(ctx context.Context, patternID, patternType string, config, metadata models.Payload) (*models.Pattern, error) {
	s.pattern = &models.Pattern{
		PatternID:   patternID,
		PatternType: patternType,
		Config:      config,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	return s.pattern, nil
}

func (s *countingStore) UpdatePattern(ctx context.Context, patternID string, config, metadata models.Payload) (*models.Pattern, error) {
	if s.pattern == nil || s.pattern.PatternID != patternID {
		return nil, &NotFoundError{Kind: "pattern", ID: patternID}
	}
	if config != nil {
		s.pattern.Config = config
	}
	if metadata != nil {
		s.pattern.Metadata = metadata
	}
	return s.pattern, nil
}

func (s *countingStore) DeletePattern(ctx context.Context, patternID string) error {
	if s.pattern == nil || s.pattern.PatternID != patternID {
		return &NotFoundError{Kind: "pattern", ID: patternID}
	}
	s.pattern = nil
	return nil
}

func (s *countingStore) LinkPatterns(ctx context.Context, fromID, toID, relType string, properties models.Payload) error {
	return nil
}

type mapCache struct {
	entries map[string][]byte
	broken  bool
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]byte)}
}

func (c *mapCache) Put(key string, value []byte) error {
	if c.broken {
		return errors.New("cache down")
	}
	c.entries[key] = value
	return nil
}

func (c *mapCache) Get(key string) ([]byte, error) {
	if c.broken {
		return nil, errors.New("cache down")
	}
	return c.entries[key], nil
}

func (c *mapCache) Delete(key string) error {
	if c.broken {
		return errors.New("cache down")
	}
	delete(c.entries, key)
	return nil
}

func TestCachedStoreReadThrough(t *testing.T) {
	ctx := context.Background()
	backend := &countingStore{}
	cache := newMapCache()
	store := NewCachedStore(backend, cache)

	_, err := store.StorePattern(ctx, "p-1", "etl", models.Payload{"tasks": []any{}}, nil)
	require.NoError(t, err)

	first, err := store.GetPattern(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 1, backend.gets)

	second, err := store.GetPattern(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 1, backend.gets, "second read must come from the cache")
	assert.Equal(t, first.PatternID, second.PatternID)
	assert.Equal(t, first.PatternType, second.PatternType)
}

func TestCachedStoreInvalidation(t *testing.T) {
	ctx := context.Background()

	t.Run("update", func(t *testing.T) {
		backend := &countingStore{}
		cache := newMapCache()
		store := NewCachedStore(backend, cache)

		_, err := store.StorePattern(ctx, "p-1", "etl", models.Payload{"v": 1}, nil)
		require.NoError(t, err)
		_, err = store.GetPattern(ctx, "p-1")
		require.NoError(t, err)

		_, err = store.UpdatePattern(ctx, "p-1", models.Payload{"v": 2}, nil)
		require.NoError(t, err)

		got, err := store.GetPattern(ctx, "p-1")
		require.NoError(t, err)
		assert.Equal(t, 2, backend.gets, "update must evict the cached document")
		assert.EqualValues(t, 2, got.Config["v"])
	})

	t.Run("link evicts the from side", func(t *testing.T) {
		backend := &countingStore{}
		cache := newMapCache()
		store := NewCachedStore(backend, cache)

		_, err := store.StorePattern(ctx, "p-1", "etl", models.Payload{}, nil)
		require.NoError(t, err)
		_, err = store.GetPattern(ctx, "p-1")
		require.NoError(t, err)

		require.NoError(t, store.LinkPatterns(ctx, "p-1", "p-2", "derived_from", nil))
		_, ok := cache.entries[patternKey("p-1")]
		assert.False(t, ok)
	})

	t.Run("delete", func(t *testing.T) {
		backend := &countingStore{}
		cache := newMapCache()
		store := NewCachedStore(backend, cache)

		_, err := store.StorePattern(ctx, "p-1", "etl", models.Payload{}, nil)
		require.NoError(t, err)
		_, err = store.GetPattern(ctx, "p-1")
		require.NoError(t, err)

		require.NoError(t, store.DeletePattern(ctx, "p-1"))
		_, err = store.GetPattern(ctx, "p-1")
		assert.ErrorIs(t, err, ErrNotFound, "stale cache must not resurrect a deleted pattern")
	})
}

func TestCachedStoreDegradesWhenCacheFails(t *testing.T) {
	ctx := context.Background()
	backend := &countingStore{}
	cache := newMapCache()
	cache.broken = true
	store := NewCachedStore(backend, cache)

	_, err := store.StorePattern(ctx, "p-1", "etl", models.Payload{}, nil)
	require.NoError(t, err)

	got, err := store.GetPattern(ctx, "p-1")
	require.NoError(t, err, "a broken cache must not fail reads")
	assert.Equal(t, "p-1", got.PatternID)
}

func TestCachedStoreMissPropagatesNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewCachedStore(&countingStore{}, newMapCache())

	_, err := store.GetPattern(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMatchMetadata(t *testing.T) {
	meta := models.Payload{"team": "data", "tier": 2, "tags": []any{"etl"}}

	assert.True(t, MatchMetadata(meta, nil))
	assert.True(t, MatchMetadata(meta, models.Payload{"team": "data"}))
	assert.True(t, MatchMetadata(meta, models.Payload{"tier": 2.0}), "numeric representations compare equal")
	assert.False(t, MatchMetadata(meta, models.Payload{"team": "infra"}))
	assert.False(t, MatchMetadata(meta, models.Payload{"missing": true}))
	assert.False(t, MatchMetadata(nil, models.Payload{"team": "data"}))
}
