// internal/storage/neo4j/client.go
package neo4j

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"

	"github.com/weftlabs/loom/internal/config"
	"github.com/weftlabs/loom/internal/models"
	"github.com/weftlabs/loom/internal/storage"
)

// Client is the graph-native pattern store. Patterns, versions and execution
// records are nodes; pattern-to-pattern links are RELATED relationships whose
// user-chosen type rides in the rel_type property, since Cypher cannot
// parameterize relationship types. Every query is parameterized; user data
// never lands in query text.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
}

func NewClient(ctx context.Context, cfg config.Neo4jConfig) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach neo4j: %w", err)
	}

	return &Client{driver: driver, database: cfg.Database}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

func (c *Client) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.database,
		AccessMode:   mode,
	})
}

// wrapErr keeps NotFound classification intact and wraps everything else as a
// StoreError.
func wrapErr(op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return &storage.StoreError{Op: op, Err: err}
}

// InitSchema creates the uniqueness constraints. Schema commands cannot run
// inside managed transactions, so each runs in its own auto-commit query.
func (c *Client) InitSchema(ctx context.Context) error {
	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	constraints := []string{
		`CREATE CONSTRAINT pattern_id_unique IF NOT EXISTS FOR (p:Pattern) REQUIRE p.pattern_id IS UNIQUE`,
		`CREATE CONSTRAINT execution_id_unique IF NOT EXISTS FOR (e:Execution) REQUIRE e.execution_id IS UNIQUE`,
	}
	for _, stmt := range constraints {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("failed to create constraint: %w", err)
		}
	}
	return nil
}

// Pattern related functions

func (c *Client) StorePattern(ctx context.Context, patternID, patternType string, pConfig, metadata models.Payload) (*models.Pattern, error) {
	configJSON, err := encodePayload(pConfig)
	if err != nil {
		return nil, wrapErr("store pattern", err)
	}
	metadataJSON, err := encodePayload(metadata)
	if err != nil {
		return nil, wrapErr("store pattern", err)
	}

	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MERGE (p:Pattern {pattern_id: $pattern_id})
			ON CREATE SET p.created_at = $now
			SET p.pattern_type = $pattern_type,
				p.config = $config,
				p.metadata = $metadata,
				p.updated_at = $now
			RETURN p`,
			map[string]any{
				"pattern_id":   patternID,
				"pattern_type": patternType,
				"config":       configJSON,
				"metadata":     metadataJSON,
				"now":          formatTime(time.Now()),
			})
		if err != nil {
			return nil, err
		}
		return res.Single(ctx)
	})
	if err != nil {
		return nil, wrapErr("store pattern", err)
	}

	node, err := recordNode(result.(*db.Record), "p")
	if err != nil {
		return nil, wrapErr("store pattern", err)
	}
	pattern, err := patternFromNode(node)
	if err != nil {
		return nil, wrapErr("store pattern", err)
	}
	return pattern, nil
}

func (c *Client) GetPattern(ctx context.Context, patternID string) (*models.Pattern, error) {
	session := c.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (p:Pattern {pattern_id: $pattern_id})
			OPTIONAL MATCH (p)-[r:RELATED]->(t:Pattern)
			RETURN p, collect({rel_type: r.rel_type, target_id: t.pattern_id, properties: r.properties}) AS rels`,
			map[string]any{"pattern_id": patternID})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, &storage.NotFoundError{Kind: "pattern", ID: patternID}
		}
		return records[0], nil
	})
	if err != nil {
		return nil, wrapErr("get pattern", err)
	}

	record := result.(*db.Record)
	node, err := recordNode(record, "p")
	if err != nil {
		return nil, wrapErr("get pattern", err)
	}
	pattern, err := patternFromNode(node)
	if err != nil {
		return nil, wrapErr("get pattern", err)
	}

	relsValue, _ := record.Get("rels")
	if pattern.Relationships, err = relationshipsFromValue(relsValue); err != nil {
		return nil, wrapErr("get pattern", err)
	}
	return pattern, nil
}

func (c *Client) LinkPatterns(ctx context.Context, fromID, toID, relType string, properties models.Payload) error {
	propsJSON, err := encodePayload(properties)
	if err != nil {
		return wrapErr("link patterns", err)
	}

	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			OPTIONAL MATCH (a:Pattern {pattern_id: $from_id})
			OPTIONAL MATCH (b:Pattern {pattern_id: $to_id})
			RETURN a IS NOT NULL AS from_ok, b IS NOT NULL AS to_ok`,
			map[string]any{"from_id": fromID, "to_id": toID})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		if v, _ := record.Get("from_ok"); v != true {
			return nil, &storage.NotFoundError{Kind: "pattern", ID: fromID}
		}
		if v, _ := record.Get("to_ok"); v != true {
			return nil, &storage.NotFoundError{Kind: "pattern", ID: toID}
		}

		res, err = tx.Run(ctx, `
			MATCH (a:Pattern {pattern_id: $from_id})
			MATCH (b:Pattern {pattern_id: $to_id})
			MERGE (a)-[r:RELATED {rel_type: $rel_type}]->(b)
			ON CREATE SET r.created_at = $now
			SET r.properties = $properties
			RETURN r`,
			map[string]any{
				"from_id":    fromID,
				"to_id":      toID,
				"rel_type":   relType,
				"properties": propsJSON,
				"now":        formatTime(time.Now()),
			})
		if err != nil {
			return nil, err
		}
		return res.Single(ctx)
	})
	if err != nil {
		return wrapErr("link patterns", err)
	}
	return nil
}

func (c *Client) SearchPatterns(ctx context.Context, patternType string, metadataFilters models.Payload) ([]*models.Pattern, error) {
	session := c.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (p:Pattern)
			WHERE $pattern_type = '' OR p.pattern_type = $pattern_type
			RETURN p
			ORDER BY p.created_at DESC, p.pattern_id`,
			map[string]any{"pattern_type": patternType})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, wrapErr("search patterns", err)
	}

	records := result.([]*db.Record)
	patterns := make([]*models.Pattern, 0, len(records))
	for _, record := range records {
		node, err := recordNode(record, "p")
		if err != nil {
			return nil, wrapErr("search patterns", err)
		}
		pattern, err := patternFromNode(node)
		if err != nil {
			return nil, wrapErr("search patterns", err)
		}
		// Metadata lives in an opaque JSON property, so equality filters
		// apply after decoding rather than in the query.
		if !storage.MatchMetadata(pattern.Metadata, metadataFilters) {
			continue
		}
		patterns = append(patterns, pattern)
	}
	return patterns, nil
}

func (c *Client) UpdatePattern(ctx context.Context, patternID string, pConfig, metadata models.Payload) (*models.Pattern, error) {
	configJSON, err := encodePayload(pConfig)
	if err != nil {
		return nil, wrapErr("update pattern", err)
	}
	metadataJSON, err := encodePayload(metadata)
	if err != nil {
		return nil, wrapErr("update pattern", err)
	}

	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (p:Pattern {pattern_id: $pattern_id})
			SET p.updated_at = $now,
				p.config = CASE WHEN $set_config THEN $config ELSE p.config END,
				p.metadata = CASE WHEN $set_metadata THEN $metadata ELSE p.metadata END
			RETURN p`,
			map[string]any{
				"pattern_id":   patternID,
				"set_config":   pConfig != nil,
				"config":       configJSON,
				"set_metadata": metadata != nil,
				"metadata":     metadataJSON,
				"now":          formatTime(time.Now()),
			})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, &storage.NotFoundError{Kind: "pattern", ID: patternID}
		}
		return records[0], nil
	})
	if err != nil {
		return nil, wrapErr("update pattern", err)
	}

	node, err := recordNode(result.(*db.Record), "p")
	if err != nil {
		return nil, wrapErr("update pattern", err)
	}
	pattern, err := patternFromNode(node)
	if err != nil {
		return nil, wrapErr("update pattern", err)
	}
	return pattern, nil
}

func (c *Client) DeletePattern(ctx context.Context, patternID string) error {
	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (p:Pattern {pattern_id: $pattern_id})
			RETURN p.pattern_id`,
			map[string]any{"pattern_id": patternID})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, &storage.NotFoundError{Kind: "pattern", ID: patternID}
		}

		// DETACH drops every relationship including HAS_EXECUTION links;
		// the Execution nodes themselves survive as orphaned history.
		res, err = tx.Run(ctx, `
			MATCH (p:Pattern {pattern_id: $pattern_id})
			OPTIONAL MATCH (p)-[:HAS_VERSION]->(v:PatternVersion)
			DETACH DELETE v, p`,
			map[string]any{"pattern_id": patternID})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return wrapErr("delete pattern", err)
	}
	return nil
}

// Version related functions

func (c *Client) GetPatternHistory(ctx context.Context, patternID string) ([]*models.PatternVersion, error) {
	session := c.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (p:Pattern {pattern_id: $pattern_id})
			RETURN p.pattern_id`,
			map[string]any{"pattern_id": patternID})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, &storage.NotFoundError{Kind: "pattern", ID: patternID}
		}

		res, err = tx.Run(ctx, `
			MATCH (:Pattern {pattern_id: $pattern_id})-[:HAS_VERSION]->(v:PatternVersion)
			RETURN v
			ORDER BY v.seq DESC`,
			map[string]any{"pattern_id": patternID})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, wrapErr("get pattern history", err)
	}

	records := result.([]*db.Record)
	versions := make([]*models.PatternVersion, 0, len(records))
	for _, record := range records {
		node, err := recordNode(record, "v")
		if err != nil {
			return nil, wrapErr("get pattern history", err)
		}
		version, err := versionFromNode(node)
		if err != nil {
			return nil, wrapErr("get pattern history", err)
		}
		versions = append(versions, version)
	}
	return versions, nil
}

func (c *Client) CreatePatternVersion(ctx context.Context, patternID, versionTag string, pConfig, metadata models.Payload) (*models.PatternVersion, error) {
	snapshotJSON, err := encodePayload(pConfig)
	if err != nil {
		return nil, wrapErr("create pattern version", err)
	}
	metadataJSON, err := encodePayload(metadata)
	if err != nil {
		return nil, wrapErr("create pattern version", err)
	}

	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (p:Pattern {pattern_id: $pattern_id})
			OPTIONAL MATCH (p)-[:HAS_VERSION]->(prev:PatternVersion)
			WITH p, count(prev) AS existing
			CREATE (p)-[:HAS_VERSION]->(v:PatternVersion {
				version_tag: $version_tag,
				seq: existing + 1,
				config_snapshot: $config_snapshot,
				metadata: $metadata,
				created_at: $now
			})
			RETURN v`,
			map[string]any{
				"pattern_id":      patternID,
				"version_tag":     versionTag,
				"config_snapshot": snapshotJSON,
				"metadata":        metadataJSON,
				"now":             formatTime(time.Now()),
			})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, &storage.NotFoundError{Kind: "pattern", ID: patternID}
		}
		return records[0], nil
	})
	if err != nil {
		return nil, wrapErr("create pattern version", err)
	}

	node, err := recordNode(result.(*db.Record), "v")
	if err != nil {
		return nil, wrapErr("create pattern version", err)
	}
	version, err := versionFromNode(node)
	if err != nil {
		return nil, wrapErr("create pattern version", err)
	}
	return version, nil
}

// Execution related functions

func (c *Client) SaveExecution(ctx context.Context, record *models.ExecutionRecord) error {
	stateJSON, err := json.Marshal(record.GraphState)
	if err != nil {
		return wrapErr("save execution", err)
	}
	metricsJSON, err := encodeMetrics(record.Metrics)
	if err != nil {
		return wrapErr("save execution", err)
	}

	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// The record is written even when its pattern has since been
		// deleted; the HAS_EXECUTION link is only created when the pattern
		// still exists.
		res, err := tx.Run(ctx, `
			CREATE (e:Execution {
				execution_id: $execution_id,
				pattern_id: $pattern_id,
				status: $status,
				graph_state: $graph_state,
				metrics: $metrics,
				created_at: $created_at,
				completed_at: $completed_at
			})
			WITH e
			OPTIONAL MATCH (p:Pattern {pattern_id: $pattern_id})
			FOREACH (x IN CASE WHEN p IS NULL THEN [] ELSE [p] END |
				CREATE (x)-[:HAS_EXECUTION]->(e))
			RETURN e.execution_id`,
			map[string]any{
				"execution_id": record.ExecutionID,
				"pattern_id":   record.PatternID,
				"status":       string(record.Status),
				"graph_state":  string(stateJSON),
				"metrics":      metricsJSON,
				"created_at":   formatTime(record.CreatedAt),
				"completed_at": formatTime(record.CompletedAt),
			})
		if err != nil {
			return nil, err
		}
		return res.Single(ctx)
	})
	if err != nil {
		return wrapErr("save execution", err)
	}
	return nil
}

func (c *Client) GetExecution(ctx context.Context, executionID string) (*models.ExecutionRecord, error) {
	session := c.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (e:Execution {execution_id: $execution_id})
			RETURN e`,
			map[string]any{"execution_id": executionID})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, &storage.NotFoundError{Kind: "execution", ID: executionID}
		}
		return records[0], nil
	})
	if err != nil {
		return nil, wrapErr("get execution", err)
	}

	node, err := recordNode(result.(*db.Record), "e")
	if err != nil {
		return nil, wrapErr("get execution", err)
	}
	execution, err := executionFromNode(node)
	if err != nil {
		return nil, wrapErr("get execution", err)
	}
	return execution, nil
}

func (c *Client) RecentExecutions(ctx context.Context, patternID string, limit int) ([]*models.ExecutionRecord, error) {
	session := c.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (e:Execution {pattern_id: $pattern_id})
			RETURN e
			ORDER BY e.completed_at DESC
			LIMIT $limit`,
			map[string]any{"pattern_id": patternID, "limit": limit})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, wrapErr("recent executions", err)
	}

	records := result.([]*db.Record)
	executions := make([]*models.ExecutionRecord, 0, len(records))
	for _, record := range records {
		node, err := recordNode(record, "e")
		if err != nil {
			return nil, wrapErr("recent executions", err)
		}
		execution, err := executionFromNode(node)
		if err != nil {
			return nil, wrapErr("recent executions", err)
		}
		executions = append(executions, execution)
	}
	return executions, nil
}
