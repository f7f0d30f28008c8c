// internal/storage/neo4j/mapping_test.go
package neo4j

import (
	"sort"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/loom/internal/models"
)

func TestPayloadEncoding(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		p := models.Payload{"tasks": []any{map[string]any{"id": "a", "type": "noop"}}}
		s, err := encodePayload(p)
		require.NoError(t, err)

		back, err := decodePayload(s)
		require.NoError(t, err)
		require.Len(t, back["tasks"], 1)
	})

	t.Run("nil encodes empty and decodes nil", func(t *testing.T) {
		s, err := encodePayload(nil)
		require.NoError(t, err)
		assert.Equal(t, "", s)

		back, err := decodePayload("")
		require.NoError(t, err)
		assert.Nil(t, back)
	})

	t.Run("garbage rejected", func(t *testing.T) {
		_, err := decodePayload("{not json")
		assert.Error(t, err)
	})
}

func TestTimeLayoutSortsLexicographically(t *testing.T) {
	base := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	times := []time.Time{
		base.Add(500 * time.Millisecond),
		base,
		base.Add(time.Second),
		base.Add(50 * time.Millisecond),
		base.Add(-time.Hour),
	}

	formatted := make([]string, len(times))
	for i, ts := range times {
		formatted[i] = formatTime(ts)
	}
	sort.Strings(formatted)

	parsed := make([]time.Time, len(formatted))
	for i, s := range formatted {
		ts, err := parseTime(s)
		require.NoError(t, err)
		parsed[i] = ts
	}
	for i := 1; i < len(parsed); i++ {
		assert.True(t, parsed[i-1].Before(parsed[i]), "string order must match time order")
	}
}

func TestPatternFromNode(t *testing.T) {
	node := dbtype.Node{Props: map[string]any{
		"pattern_id":   "p-1",
		"pattern_type": "etl",
		"config":       `{"tasks":[{"id":"t1","type":"noop"}]}`,
		"metadata":     `{"team":"data"}`,
		"created_at":   "2025-03-14T09:26:53.000000000Z",
		"updated_at":   "2025-03-15T09:26:53.000000000Z",
	}}

	pattern, err := patternFromNode(node)
	require.NoError(t, err)
	assert.Equal(t, "p-1", pattern.PatternID)
	assert.Equal(t, "etl", pattern.PatternType)
	assert.Equal(t, "data", pattern.Metadata["team"])
	assert.True(t, pattern.UpdatedAt.After(pattern.CreatedAt))

	tasks, err := models.TasksFromConfig(pattern.Config)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t1", tasks[0].ID)
}

func TestPatternFromNodeBadTimestamp(t *testing.T) {
	node := dbtype.Node{Props: map[string]any{
		"pattern_id":   "p-1",
		"pattern_type": "etl",
		"config":       `{}`,
		"created_at":   "yesterday",
	}}
	_, err := patternFromNode(node)
	assert.Error(t, err)
}

func TestVersionFromNode(t *testing.T) {
	node := dbtype.Node{Props: map[string]any{
		"version_tag":     "v3",
		"seq":             int64(3),
		"config_snapshot": `{"tasks":[]}`,
		"metadata":        "",
		"created_at":      "2025-03-14T09:26:53.000000000Z",
	}}

	version, err := versionFromNode(node)
	require.NoError(t, err)
	assert.Equal(t, "v3", version.VersionTag)
	assert.Equal(t, 3, version.Seq)
	assert.Nil(t, version.Metadata)
}

func TestExecutionFromNode(t *testing.T) {
	node := dbtype.Node{Props: map[string]any{
		"execution_id": "e-1",
		"pattern_id":   "p-1",
		"status":       "partial",
		"graph_state":  `{"nodes":{"a":{"task_id":"a","task_type":"noop","config":{},"dependencies":[],"status":"completed"}},"edges":{},"reverse_edges":{}}`,
		"metrics":      `{"total_tasks":1,"completed_tasks":1}`,
		"created_at":   "2025-03-14T09:26:53.000000000Z",
		"completed_at": "2025-03-14T09:27:53.000000000Z",
	}}

	execution, err := executionFromNode(node)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPartial, execution.Status)
	require.NotNil(t, execution.GraphState)
	assert.Equal(t, models.TaskStatusCompleted, execution.GraphState.Nodes["a"].Status)
	assert.Equal(t, 1.0, execution.Metrics["total_tasks"])
	assert.Equal(t, time.Minute, execution.Duration())
}

func TestRelationshipsFromValue(t *testing.T) {
	t.Run("skips the null entry from an empty optional match", func(t *testing.T) {
		rels, err := relationshipsFromValue([]any{
			map[string]any{"rel_type": nil, "target_id": nil, "properties": nil},
		})
		require.NoError(t, err)
		assert.Empty(t, rels)
	})

	t.Run("maps typed relationships", func(t *testing.T) {
		rels, err := relationshipsFromValue([]any{
			map[string]any{"rel_type": "derived_from", "target_id": "p-0", "properties": `{"note":"fork"}`},
			map[string]any{"rel_type": "optimized_from", "target_id": "p-9", "properties": ""},
		})
		require.NoError(t, err)
		require.Len(t, rels, 2)
		assert.Equal(t, "derived_from", rels[0].Type)
		assert.Equal(t, "p-0", rels[0].TargetID)
		assert.Equal(t, "fork", rels[0].Properties["note"])
		assert.Nil(t, rels[1].Properties)
	})

	t.Run("rejects unexpected shapes", func(t *testing.T) {
		_, err := relationshipsFromValue("oops")
		assert.Error(t, err)
	})
}
