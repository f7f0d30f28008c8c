// internal/registry/registry.go
package registry

import (
	"context"
	"fmt"

	"github.com/weftlabs/loom/internal/config"
	"github.com/weftlabs/loom/internal/integration"
	"github.com/weftlabs/loom/internal/models"
	"github.com/weftlabs/loom/internal/storage"
	"github.com/weftlabs/loom/pkg/logger"
)

// Registry validates pattern configs before they reach the store. Storing an
// unbuildable pattern would only surface at execution time, so registration
// dry-runs the graph build.
type Registry struct {
	store storage.PatternStore
}

func NewRegistry(store storage.PatternStore) *Registry {
	return &Registry{store: store}
}

// ValidateConfig checks that a pattern config declares a buildable task
// graph: a non-empty task list, dependencies that reference declared tasks,
// and no dependency cycles.
func ValidateConfig(cfg models.Payload) error {
	tasks, err := models.TasksFromConfig(cfg)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return &models.InvalidConfigError{Reason: "pattern declares no tasks"}
	}
	if _, err := integration.BuildGraph(tasks); err != nil {
		return err
	}
	return nil
}

// Register validates and stores a pattern under the given id.
func (r *Registry) Register(ctx context.Context, patternID, patternType string, cfg, metadata models.Payload) (*models.Pattern, error) {
	if patternType == "" {
		return nil, &models.InvalidConfigError{Reason: "pattern type is required"}
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	pattern, err := r.store.StorePattern(ctx, patternID, patternType, cfg, metadata)
	if err != nil {
		return nil, err
	}

	logger.Info("registered pattern", "pattern_id", patternID, "type", patternType)
	return pattern, nil
}

// Seed registers the patterns declared in the config file. Seed ids are
// derived from the pattern type, so reseeding on every boot upserts instead
// of piling up duplicates.
func (r *Registry) Seed(ctx context.Context, seeds []config.PatternSeed) error {
	for _, seed := range seeds {
		if seed.Type == "" {
			return fmt.Errorf("pattern seed without a type")
		}
		patternID := "seed." + seed.Type
		if _, err := r.Register(ctx, patternID, seed.Type, seed.Config, seed.Metadata); err != nil {
			return fmt.Errorf("failed to seed pattern %q: %w", seed.Type, err)
		}
	}

	if len(seeds) > 0 {
		logger.Info("seeded patterns from config", "count", len(seeds))
	}
	return nil
}
