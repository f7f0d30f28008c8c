// internal/storage/postgres/client.go
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/weftlabs/loom/internal/config"
	"github.com/weftlabs/loom/internal/models"
	"github.com/weftlabs/loom/internal/storage"
)

// Client renders the pattern graph onto relational tables. It implements
// storage.PatternStore with the same observable semantics as the Neo4j
// backend.
type Client struct {
	db *sql.DB
}

func NewClient(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &Client{db: db}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func storeErr(op string, err error) error {
	return &storage.StoreError{Op: op, Err: err}
}

func marshalPayload(p models.Payload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

func unmarshalPayload(data []byte) (models.Payload, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var p models.Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// Pattern related functions

func (c *Client) StorePattern(ctx context.Context, patternID, patternType string, pConfig, metadata models.Payload) (*models.Pattern, error) {
	configJSON, err := marshalPayload(pConfig)
	if err != nil {
		return nil, storeErr("store pattern", err)
	}
	metadataJSON, err := marshalPayload(metadata)
	if err != nil {
		return nil, storeErr("store pattern", err)
	}

	query := `
		INSERT INTO patterns (pattern_id, pattern_type, config, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (pattern_id) DO UPDATE
		SET pattern_type = EXCLUDED.pattern_type,
			config = EXCLUDED.config,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at`

	pattern := &models.Pattern{
		PatternID:   patternID,
		PatternType: patternType,
		Config:      pConfig,
		Metadata:    metadata,
	}

	now := time.Now().UTC()
	err = c.db.QueryRowContext(ctx, query, patternID, patternType, configJSON, metadataJSON, now).
		Scan(&pattern.CreatedAt, &pattern.UpdatedAt)
	if err != nil {
		return nil, storeErr("store pattern", err)
	}

	return pattern, nil
}

func (c *Client) GetPattern(ctx context.Context, patternID string) (*models.Pattern, error) {
	query := `
		SELECT pattern_type, config, metadata, created_at, updated_at
		FROM patterns
		WHERE pattern_id = $1`

	pattern := &models.Pattern{PatternID: patternID}
	var configJSON, metadataJSON []byte

	err := c.db.QueryRowContext(ctx, query, patternID).Scan(
		&pattern.PatternType,
		&configJSON,
		&metadataJSON,
		&pattern.CreatedAt,
		&pattern.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &storage.NotFoundError{Kind: "pattern", ID: patternID}
	}
	if err != nil {
		return nil, storeErr("get pattern", err)
	}

	if pattern.Config, err = unmarshalPayload(configJSON); err != nil {
		return nil, storeErr("get pattern", err)
	}
	if pattern.Metadata, err = unmarshalPayload(metadataJSON); err != nil {
		return nil, storeErr("get pattern", err)
	}

	if pattern.Relationships, err = c.relationships(ctx, patternID); err != nil {
		return nil, err
	}

	return pattern, nil
}

func (c *Client) relationships(ctx context.Context, patternID string) ([]models.Relationship, error) {
	query := `
		SELECT rel_type, to_id, properties
		FROM pattern_relationships
		WHERE from_id = $1
		ORDER BY rel_type, to_id`

	rows, err := c.db.QueryContext(ctx, query, patternID)
	if err != nil {
		return nil, storeErr("get pattern relationships", err)
	}
	defer rows.Close()

	var rels []models.Relationship
	for rows.Next() {
		var rel models.Relationship
		var propsJSON []byte
		if err := rows.Scan(&rel.Type, &rel.TargetID, &propsJSON); err != nil {
			return nil, storeErr("get pattern relationships", err)
		}
		if rel.Properties, err = unmarshalPayload(propsJSON); err != nil {
			return nil, storeErr("get pattern relationships", err)
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

func (c *Client) LinkPatterns(ctx context.Context, fromID, toID, relType string, properties models.Payload) error {
	for _, id := range []string{fromID, toID} {
		var found string
		err := c.db.QueryRowContext(ctx, `SELECT pattern_id FROM patterns WHERE pattern_id = $1`, id).Scan(&found)
		if err == sql.ErrNoRows {
			return &storage.NotFoundError{Kind: "pattern", ID: id}
		}
		if err != nil {
			return storeErr("link patterns", err)
		}
	}

	propsJSON, err := marshalPayload(properties)
	if err != nil {
		return storeErr("link patterns", err)
	}

	query := `
		INSERT INTO pattern_relationships (from_id, to_id, rel_type, properties, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (from_id, to_id, rel_type) DO UPDATE
		SET properties = EXCLUDED.properties`

	if _, err := c.db.ExecContext(ctx, query, fromID, toID, relType, propsJSON, time.Now().UTC()); err != nil {
		return storeErr("link patterns", err)
	}
	return nil
}

func (c *Client) SearchPatterns(ctx context.Context, patternType string, metadataFilters models.Payload) ([]*models.Pattern, error) {
	query := `
		SELECT pattern_id, pattern_type, config, metadata, created_at, updated_at
		FROM patterns
		WHERE ($1 = '' OR pattern_type = $1)
		ORDER BY created_at DESC, pattern_id`

	rows, err := c.db.QueryContext(ctx, query, patternType)
	if err != nil {
		return nil, storeErr("search patterns", err)
	}
	defer rows.Close()

	patterns := make([]*models.Pattern, 0)
	for rows.Next() {
		pattern := &models.Pattern{}
		var configJSON, metadataJSON []byte
		if err := rows.Scan(
			&pattern.PatternID,
			&pattern.PatternType,
			&configJSON,
			&metadataJSON,
			&pattern.CreatedAt,
			&pattern.UpdatedAt,
		); err != nil {
			return nil, storeErr("search patterns", err)
		}
		if pattern.Config, err = unmarshalPayload(configJSON); err != nil {
			return nil, storeErr("search patterns", err)
		}
		if pattern.Metadata, err = unmarshalPayload(metadataJSON); err != nil {
			return nil, storeErr("search patterns", err)
		}
		if !storage.MatchMetadata(pattern.Metadata, metadataFilters) {
			continue
		}
		patterns = append(patterns, pattern)
	}
	return patterns, rows.Err()
}

func (c *Client) UpdatePattern(ctx context.Context, patternID string, pConfig, metadata models.Payload) (*models.Pattern, error) {
	configJSON, err := marshalPayload(pConfig)
	if err != nil {
		return nil, storeErr("update pattern", err)
	}
	metadataJSON, err := marshalPayload(metadata)
	if err != nil {
		return nil, storeErr("update pattern", err)
	}

	query := `
		UPDATE patterns
		SET config = COALESCE($2, config),
			metadata = COALESCE($3, metadata),
			updated_at = $4
		WHERE pattern_id = $1
		RETURNING pattern_type, config, metadata, created_at, updated_at`

	pattern := &models.Pattern{PatternID: patternID}
	var storedConfig, storedMetadata []byte

	err = c.db.QueryRowContext(ctx, query, patternID, configJSON, metadataJSON, time.Now().UTC()).Scan(
		&pattern.PatternType,
		&storedConfig,
		&storedMetadata,
		&pattern.CreatedAt,
		&pattern.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &storage.NotFoundError{Kind: "pattern", ID: patternID}
	}
	if err != nil {
		return nil, storeErr("update pattern", err)
	}

	if pattern.Config, err = unmarshalPayload(storedConfig); err != nil {
		return nil, storeErr("update pattern", err)
	}
	if pattern.Metadata, err = unmarshalPayload(storedMetadata); err != nil {
		return nil, storeErr("update pattern", err)
	}

	return pattern, nil
}

func (c *Client) DeletePattern(ctx context.Context, patternID string) error {
	// Relationships and versions cascade through their foreign keys;
	// executions stay behind as historical records.
	result, err := c.db.ExecContext(ctx, `DELETE FROM patterns WHERE pattern_id = $1`, patternID)
	if err != nil {
		return storeErr("delete pattern", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return storeErr("delete pattern", err)
	}
	if rows == 0 {
		return &storage.NotFoundError{Kind: "pattern", ID: patternID}
	}
	return nil
}

// Version related functions

func (c *Client) GetPatternHistory(ctx context.Context, patternID string) ([]*models.PatternVersion, error) {
	var found string
	err := c.db.QueryRowContext(ctx, `SELECT pattern_id FROM patterns WHERE pattern_id = $1`, patternID).Scan(&found)
	if err == sql.ErrNoRows {
		return nil, &storage.NotFoundError{Kind: "pattern", ID: patternID}
	}
	if err != nil {
		return nil, storeErr("get pattern history", err)
	}

	query := `
		SELECT version_tag, seq, config_snapshot, metadata, created_at
		FROM pattern_versions
		WHERE pattern_id = $1
		ORDER BY seq DESC`

	rows, err := c.db.QueryContext(ctx, query, patternID)
	if err != nil {
		return nil, storeErr("get pattern history", err)
	}
	defer rows.Close()

	versions := make([]*models.PatternVersion, 0)
	for rows.Next() {
		version := &models.PatternVersion{}
		var snapshotJSON, metadataJSON []byte
		if err := rows.Scan(
			&version.VersionTag,
			&version.Seq,
			&snapshotJSON,
			&metadataJSON,
			&version.CreatedAt,
		); err != nil {
			return nil, storeErr("get pattern history", err)
		}
		if version.ConfigSnapshot, err = unmarshalPayload(snapshotJSON); err != nil {
			return nil, storeErr("get pattern history", err)
		}
		if version.Metadata, err = unmarshalPayload(metadataJSON); err != nil {
			return nil, storeErr("get pattern history", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

func (c *Client) CreatePatternVersion(ctx context.Context, patternID, versionTag string, pConfig, metadata models.Payload) (*models.PatternVersion, error) {
	snapshotJSON, err := marshalPayload(pConfig)
	if err != nil {
		return nil, storeErr("create pattern version", err)
	}
	metadataJSON, err := marshalPayload(metadata)
	if err != nil {
		return nil, storeErr("create pattern version", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("create pattern version", err)
	}
	defer tx.Rollback()

	// Lock the pattern row so concurrent appends serialize on the sequence
	// number.
	var found string
	err = tx.QueryRowContext(ctx, `SELECT pattern_id FROM patterns WHERE pattern_id = $1 FOR UPDATE`, patternID).Scan(&found)
	if err == sql.ErrNoRows {
		return nil, &storage.NotFoundError{Kind: "pattern", ID: patternID}
	}
	if err != nil {
		return nil, storeErr("create pattern version", err)
	}

	query := `
		INSERT INTO pattern_versions (pattern_id, seq, version_tag, config_snapshot, metadata, created_at)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5
		FROM pattern_versions
		WHERE pattern_id = $1
		RETURNING seq`

	version := &models.PatternVersion{
		VersionTag:     versionTag,
		ConfigSnapshot: pConfig,
		Metadata:       metadata,
		CreatedAt:      time.Now().UTC(),
	}

	err = tx.QueryRowContext(ctx, query, patternID, versionTag, snapshotJSON, metadataJSON, version.CreatedAt).
		Scan(&version.Seq)
	if err != nil {
		return nil, storeErr("create pattern version", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("create pattern version", err)
	}
	return version, nil
}

// Execution related functions

func (c *Client) SaveExecution(ctx context.Context, record *models.ExecutionRecord) error {
	stateJSON, err := json.Marshal(record.GraphState)
	if err != nil {
		return storeErr("save execution", err)
	}
	metricsJSON, err := json.Marshal(record.Metrics)
	if err != nil {
		return storeErr("save execution", err)
	}

	query := `
		INSERT INTO executions
		(execution_id, pattern_id, status, graph_state, metrics, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = c.db.ExecContext(ctx, query,
		record.ExecutionID,
		record.PatternID,
		record.Status,
		stateJSON,
		metricsJSON,
		record.CreatedAt,
		record.CompletedAt,
	)
	if err != nil {
		return storeErr("save execution", err)
	}
	return nil
}

func (c *Client) GetExecution(ctx context.Context, executionID string) (*models.ExecutionRecord, error) {
	query := `
		SELECT pattern_id, status, graph_state, metrics, created_at, completed_at
		FROM executions
		WHERE execution_id = $1`

	record := &models.ExecutionRecord{ExecutionID: executionID}
	var stateJSON, metricsJSON []byte

	err := c.db.QueryRowContext(ctx, query, executionID).Scan(
		&record.PatternID,
		&record.Status,
		&stateJSON,
		&metricsJSON,
		&record.CreatedAt,
		&record.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &storage.NotFoundError{Kind: "execution", ID: executionID}
	}
	if err != nil {
		return nil, storeErr("get execution", err)
	}

	if err := json.Unmarshal(stateJSON, &record.GraphState); err != nil {
		return nil, storeErr("get execution", err)
	}
	if len(metricsJSON) > 0 {
		if err := json.Unmarshal(metricsJSON, &record.Metrics); err != nil {
			return nil, storeErr("get execution", err)
		}
	}
	return record, nil
}

func (c *Client) RecentExecutions(ctx context.Context, patternID string, limit int) ([]*models.ExecutionRecord, error) {
	query := `
		SELECT execution_id, status, graph_state, metrics, created_at, completed_at
		FROM executions
		WHERE pattern_id = $1
		ORDER BY completed_at DESC
		LIMIT $2`

	rows, err := c.db.QueryContext(ctx, query, patternID, limit)
	if err != nil {
		return nil, storeErr("recent executions", err)
	}
	defer rows.Close()

	records := make([]*models.ExecutionRecord, 0)
	for rows.Next() {
		record := &models.ExecutionRecord{PatternID: patternID}
		var stateJSON, metricsJSON []byte
		if err := rows.Scan(
			&record.ExecutionID,
			&record.Status,
			&stateJSON,
			&metricsJSON,
			&record.CreatedAt,
			&record.CompletedAt,
		); err != nil {
			return nil, storeErr("recent executions", err)
		}
		if err := json.Unmarshal(stateJSON, &record.GraphState); err != nil {
			return nil, storeErr("recent executions", err)
		}
		if len(metricsJSON) > 0 {
			if err := json.Unmarshal(metricsJSON, &record.Metrics); err != nil {
				return nil, storeErr("recent executions", err)
			}
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
