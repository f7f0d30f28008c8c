// internal/storage/neo4j/mapping.go
package neo4j

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/weftlabs/loom/internal/models"
)

// timeLayout is RFC3339 with fixed-width nanoseconds. Unlike RFC3339Nano it
// never trims trailing zeros, so stored timestamps sort lexicographically in
// chronological order and ORDER BY on the string property is correct.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// encodePayload renders a payload as a JSON string property. Cypher cannot
// index into arbitrary nested documents anyway, so payloads travel opaque.
// A nil payload encodes as the empty string.
func encodePayload(p models.Payload) (string, error) {
	if p == nil {
		return "", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodePayload(s string) (models.Payload, error) {
	if s == "" {
		return nil, nil
	}
	var p models.Payload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, err
	}
	return p, nil
}

func encodeMetrics(m map[string]float64) (string, error) {
	if m == nil {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeMetrics(s string) (map[string]float64, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]float64
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func stringProp(node dbtype.Node, key string) string {
	if v, ok := node.Props[key].(string); ok {
		return v
	}
	return ""
}

func intProp(node dbtype.Node, key string) int {
	if v, ok := node.Props[key].(int64); ok {
		return int(v)
	}
	return 0
}

func timeProp(node dbtype.Node, key string) (time.Time, error) {
	s := stringProp(node, key)
	if s == "" {
		return time.Time{}, fmt.Errorf("node property %q is not a timestamp", key)
	}
	return parseTime(s)
}

// recordNode extracts a node value from a result record by its return alias.
func recordNode(rec *db.Record, key string) (dbtype.Node, error) {
	v, ok := rec.Get(key)
	if !ok {
		return dbtype.Node{}, fmt.Errorf("record has no %q entry", key)
	}
	node, ok := v.(dbtype.Node)
	if !ok {
		return dbtype.Node{}, fmt.Errorf("record entry %q is not a node", key)
	}
	return node, nil
}

func patternFromNode(node dbtype.Node) (*models.Pattern, error) {
	config, err := decodePayload(stringProp(node, "config"))
	if err != nil {
		return nil, fmt.Errorf("pattern config: %w", err)
	}
	metadata, err := decodePayload(stringProp(node, "metadata"))
	if err != nil {
		return nil, fmt.Errorf("pattern metadata: %w", err)
	}
	createdAt, err := timeProp(node, "created_at")
	if err != nil {
		return nil, err
	}
	updatedAt, err := timeProp(node, "updated_at")
	if err != nil {
		return nil, err
	}

	return &models.Pattern{
		PatternID:   stringProp(node, "pattern_id"),
		PatternType: stringProp(node, "pattern_type"),
		Config:      config,
		Metadata:    metadata,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

func versionFromNode(node dbtype.Node) (*models.PatternVersion, error) {
	snapshot, err := decodePayload(stringProp(node, "config_snapshot"))
	if err != nil {
		return nil, fmt.Errorf("version config snapshot: %w", err)
	}
	metadata, err := decodePayload(stringProp(node, "metadata"))
	if err != nil {
		return nil, fmt.Errorf("version metadata: %w", err)
	}
	createdAt, err := timeProp(node, "created_at")
	if err != nil {
		return nil, err
	}

	return &models.PatternVersion{
		VersionTag:     stringProp(node, "version_tag"),
		Seq:            intProp(node, "seq"),
		ConfigSnapshot: snapshot,
		Metadata:       metadata,
		CreatedAt:      createdAt,
	}, nil
}

func executionFromNode(node dbtype.Node) (*models.ExecutionRecord, error) {
	var state *models.GraphState
	if s := stringProp(node, "graph_state"); s != "" {
		if err := json.Unmarshal([]byte(s), &state); err != nil {
			return nil, fmt.Errorf("execution graph state: %w", err)
		}
	}
	metrics, err := decodeMetrics(stringProp(node, "metrics"))
	if err != nil {
		return nil, fmt.Errorf("execution metrics: %w", err)
	}
	createdAt, err := timeProp(node, "created_at")
	if err != nil {
		return nil, err
	}
	completedAt, err := timeProp(node, "completed_at")
	if err != nil {
		return nil, err
	}

	return &models.ExecutionRecord{
		ExecutionID: stringProp(node, "execution_id"),
		PatternID:   stringProp(node, "pattern_id"),
		Status:      models.ExecutionStatus(stringProp(node, "status")),
		GraphState:  state,
		Metrics:     metrics,
		CreatedAt:   createdAt,
		CompletedAt: completedAt,
	}, nil
}

// relationshipsFromValue converts the collected relationship maps returned
// alongside a pattern. An OPTIONAL MATCH with no relationships collects one
// all-null entry, which is skipped.
func relationshipsFromValue(v any) ([]models.Relationship, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("relationship list has unexpected shape %T", v)
	}

	var rels []models.Relationship
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("relationship entry has unexpected shape %T", item)
		}
		relType, ok := m["rel_type"].(string)
		if !ok {
			continue
		}
		targetID, _ := m["target_id"].(string)
		props, _ := m["properties"].(string)
		properties, err := decodePayload(props)
		if err != nil {
			return nil, fmt.Errorf("relationship properties: %w", err)
		}
		rels = append(rels, models.Relationship{
			Type:       relType,
			TargetID:   targetID,
			Properties: properties,
		})
	}
	return rels, nil
}
