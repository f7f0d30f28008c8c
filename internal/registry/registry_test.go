// internal/registry/registry_test.go
package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/loom/internal/config"
	"github.com/weftlabs/loom/internal/graph"
	"github.com/weftlabs/loom/internal/models"
	"github.com/weftlabs/loom/internal/storage/memory"
)

func validConfig() models.Payload {
	return models.Payload{"tasks": []any{
		map[string]any{"id": "a", "type": "noop"},
		map[string]any{"id": "b", "type": "noop", "dependencies": []any{"a"}},
	}}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	r := NewRegistry(store)

	pattern, err := r.Register(ctx, "p-1", "etl", validConfig(), models.Payload{"team": "data"})
	require.NoError(t, err)
	assert.Equal(t, "p-1", pattern.PatternID)

	stored, err := store.GetPattern(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "etl", stored.PatternType)
}

func TestRegisterRejectsInvalidConfigs(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	r := NewRegistry(store)

	cases := []struct {
		name string
		cfg  models.Payload
	}{
		{"no tasks key", models.Payload{"note": "nothing"}},
		{"empty task list", models.Payload{"tasks": []any{}}},
		{"undeclared dependency", models.Payload{"tasks": []any{
			map[string]any{"id": "a", "type": "noop", "dependencies": []any{"ghost"}},
		}}},
		{"duplicate ids", models.Payload{"tasks": []any{
			map[string]any{"id": "a", "type": "noop"},
			map[string]any{"id": "a", "type": "noop"},
		}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Register(ctx, "p-bad", "etl", tc.cfg, nil)
			require.ErrorIs(t, err, models.ErrInvalidConfig)
		})
	}

	// Nothing was stored for any of the rejected configs.
	results, err := store.SearchPatterns(ctx, "", nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRegisterRejectsCycles(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(memory.NewStore())

	cfg := models.Payload{"tasks": []any{
		map[string]any{"id": "a", "type": "noop", "dependencies": []any{"b"}},
		map[string]any{"id": "b", "type": "noop", "dependencies": []any{"a"}},
	}}

	_, err := r.Register(ctx, "p-cyclic", "etl", cfg, nil)
	require.ErrorIs(t, err, graph.ErrCycle)
}

func TestRegisterRequiresType(t *testing.T) {
	r := NewRegistry(memory.NewStore())
	_, err := r.Register(context.Background(), "p-1", "", validConfig(), nil)
	require.ErrorIs(t, err, models.ErrInvalidConfig)
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	r := NewRegistry(store)

	seeds := []config.PatternSeed{
		{Type: "nightly_etl", Config: validConfig(), Metadata: models.Payload{"owner": "ops"}},
	}

	require.NoError(t, r.Seed(ctx, seeds))

	pattern, err := store.GetPattern(ctx, "seed.nightly_etl")
	require.NoError(t, err)
	assert.Equal(t, "nightly_etl", pattern.PatternType)
	assert.Equal(t, "ops", pattern.Metadata["owner"])

	// Seeding again upserts the same id instead of creating a second pattern.
	require.NoError(t, r.Seed(ctx, seeds))
	all, err := store.SearchPatterns(ctx, "nightly_etl", nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	err = r.Seed(ctx, []config.PatternSeed{{Type: "bad", Config: models.Payload{}}})
	require.Error(t, err)
}
