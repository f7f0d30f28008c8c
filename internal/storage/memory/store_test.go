// internal/storage/memory/store_test.go
package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/loom/internal/models"
	"github.com/weftlabs/loom/internal/storage"
)

func taskList(ids ...string) models.Payload {
	tasks := make([]any, 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, map[string]any{"id": id, "type": "noop"})
	}
	return models.Payload{"tasks": tasks}
}

func TestPatternRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	stored, err := store.StorePattern(ctx, "p-1", "etl", taskList("a", "b"), models.Payload{"team": "data"})
	require.NoError(t, err)
	assert.False(t, stored.CreatedAt.IsZero())

	got, err := store.GetPattern(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "etl", got.PatternType)
	assert.Equal(t, "data", got.Metadata["team"])

	tasks, err := models.TasksFromConfig(got.Config)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "a", tasks[0].ID)
}

func TestStorePatternUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	first, err := store.StorePattern(ctx, "p-1", "etl", taskList("a"), nil)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	second, err := store.StorePattern(ctx, "p-1", "reporting", taskList("a", "b"), nil)
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt, "created_at survives upserts")
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.Equal(t, "reporting", second.PatternType)
}

func TestGetPatternNotFound(t *testing.T) {
	store := NewStore()
	_, err := store.GetPattern(context.Background(), "ghost")
	require.ErrorIs(t, err, storage.ErrNotFound)

	var nf *storage.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "ghost", nf.ID)
	assert.Equal(t, "pattern", nf.Kind)
}

func TestLinkPatterns(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	_, err := store.StorePattern(ctx, "p-1", "etl", taskList("a"), nil)
	require.NoError(t, err)
	_, err = store.StorePattern(ctx, "p-2", "etl", taskList("a"), nil)
	require.NoError(t, err)

	require.NoError(t, store.LinkPatterns(ctx, "p-1", "p-2", "derived_from", models.Payload{"note": "fork"}))

	got, err := store.GetPattern(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, got.Relationships, 1)
	assert.Equal(t, "derived_from", got.Relationships[0].Type)
	assert.Equal(t, "p-2", got.Relationships[0].TargetID)
	assert.Equal(t, "fork", got.Relationships[0].Properties["note"])

	// Re-linking the same edge replaces its properties instead of stacking.
	require.NoError(t, store.LinkPatterns(ctx, "p-1", "p-2", "derived_from", models.Payload{"note": "refreshed"}))
	got, err = store.GetPattern(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, got.Relationships, 1)
	assert.Equal(t, "refreshed", got.Relationships[0].Properties["note"])

	err = store.LinkPatterns(ctx, "p-1", "ghost", "derived_from", nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	err = store.LinkPatterns(ctx, "ghost", "p-1", "derived_from", nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSearchPatterns(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	_, err := store.StorePattern(ctx, "p-old", "etl", taskList("a"), models.Payload{"tier": 1})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = store.StorePattern(ctx, "p-new", "etl", taskList("a"), models.Payload{"tier": 2})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = store.StorePattern(ctx, "p-other", "reporting", taskList("a"), nil)
	require.NoError(t, err)

	all, err := store.SearchPatterns(ctx, "", nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "p-other", all[0].PatternID, "newest first")
	assert.Equal(t, "p-new", all[1].PatternID)
	assert.Equal(t, "p-old", all[2].PatternID)

	etl, err := store.SearchPatterns(ctx, "etl", nil)
	require.NoError(t, err)
	require.Len(t, etl, 2)

	tierTwo, err := store.SearchPatterns(ctx, "etl", models.Payload{"tier": 2})
	require.NoError(t, err)
	require.Len(t, tierTwo, 1)
	assert.Equal(t, "p-new", tierTwo[0].PatternID)

	none, err := store.SearchPatterns(ctx, "missing_type", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdatePattern(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	_, err := store.StorePattern(ctx, "p-1", "etl", taskList("a"), models.Payload{"team": "data"})
	require.NoError(t, err)

	updated, err := store.UpdatePattern(ctx, "p-1", taskList("a", "b"), nil)
	require.NoError(t, err)
	assert.Equal(t, "data", updated.Metadata["team"], "nil metadata leaves the stored value")

	tasks, err := models.TasksFromConfig(updated.Config)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	_, err = store.UpdatePattern(ctx, "ghost", nil, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestVersionHistoryAppendOnly(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	_, err := store.StorePattern(ctx, "p-1", "etl", taskList("a"), nil)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		v, err := store.CreatePatternVersion(ctx, "p-1", "snapshot", taskList("a"), models.Payload{"round": i})
		require.NoError(t, err)
		assert.Equal(t, i, v.Seq, "store assigns monotonically increasing sequence numbers")
	}

	history, err := store.GetPatternHistory(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 3, history[0].Seq, "newest first")
	assert.Equal(t, 1, history[2].Seq)

	firstSnapshot := history[2]

	_, err = store.CreatePatternVersion(ctx, "p-1", "snapshot", taskList("a", "b"), nil)
	require.NoError(t, err)

	history, err = store.GetPatternHistory(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, firstSnapshot.ConfigSnapshot, history[3].ConfigSnapshot,
		"earlier versions never change once written")

	_, err = store.CreatePatternVersion(ctx, "ghost", "v1", nil, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetPatternHistory(ctx, "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeletePattern(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	_, err := store.StorePattern(ctx, "p-1", "etl", taskList("a"), nil)
	require.NoError(t, err)
	_, err = store.StorePattern(ctx, "p-2", "etl", taskList("a"), nil)
	require.NoError(t, err)
	require.NoError(t, store.LinkPatterns(ctx, "p-2", "p-1", "derived_from", nil))
	_, err = store.CreatePatternVersion(ctx, "p-1", "v1", taskList("a"), nil)
	require.NoError(t, err)

	record := &models.ExecutionRecord{
		ExecutionID: "e-1",
		PatternID:   "p-1",
		Status:      models.ExecutionStatusCompleted,
		GraphState:  &models.GraphState{Nodes: map[string]*models.TaskNode{}},
		CreatedAt:   time.Now().UTC(),
		CompletedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveExecution(ctx, record))

	require.NoError(t, store.DeletePattern(ctx, "p-1"))

	_, err = store.GetPattern(ctx, "p-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetPatternHistory(ctx, "p-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Inbound relationships from other patterns are gone too.
	other, err := store.GetPattern(ctx, "p-2")
	require.NoError(t, err)
	assert.Empty(t, other.Relationships)

	// The execution record is orphaned, not deleted.
	orphan, err := store.GetExecution(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, "p-1", orphan.PatternID)

	assert.ErrorIs(t, store.DeletePattern(ctx, "p-1"), storage.ErrNotFound)
}

func TestRecentExecutions(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		record := &models.ExecutionRecord{
			ExecutionID: []string{"e-a", "e-b", "e-c"}[i],
			PatternID:   "p-1",
			Status:      models.ExecutionStatusCompleted,
			GraphState:  &models.GraphState{Nodes: map[string]*models.TaskNode{}},
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
			CompletedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
		}
		require.NoError(t, store.SaveExecution(ctx, record))
	}

	recent, err := store.RecentExecutions(ctx, "p-1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "e-c", recent[0].ExecutionID, "newest completion first")
	assert.Equal(t, "e-b", recent[1].ExecutionID)

	empty, err := store.RecentExecutions(ctx, "ghost", 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
