// internal/integration/service.go
package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/loom/internal/graph"
	"github.com/weftlabs/loom/internal/models"
	"github.com/weftlabs/loom/internal/storage"
	"github.com/weftlabs/loom/pkg/logger"
)

// DefaultAnalysisWindow is how many recent executions an analysis considers
// when the caller does not say.
const DefaultAnalysisWindow = 10

// Service connects the in-memory task graphs to the pattern store. It builds
// graphs from stored patterns and persists finished runs; the stored history
// then feeds analysis and optimization suggestions.
type Service struct {
	store storage.PatternStore
}

func NewService(store storage.PatternStore) *Service {
	return &Service{store: store}
}

// InstantiatePattern builds a fresh TaskGraph from a stored pattern.
// Overrides are merged shallowly over the stored config, override wins.
func (s *Service) InstantiatePattern(ctx context.Context, patternID string, overrides models.Payload) (*graph.TaskGraph, error) {
	pattern, err := s.store.GetPattern(ctx, patternID)
	if err != nil {
		return nil, err
	}

	merged := pattern.Config.Merge(overrides)
	tasks, err := models.TasksFromConfig(merged)
	if err != nil {
		return nil, err
	}

	g, err := BuildGraph(tasks)
	if err != nil {
		return nil, err
	}

	logger.Debug("instantiated pattern", "pattern_id", patternID, "tasks", g.Len())
	return g, nil
}

// BuildGraph constructs a task graph from a pattern task list. Pass one
// creates every node while mapping pattern-local task ids to generated graph
// ids, pass two wires the declared dependencies through that map. Two passes
// because a dependency may reference a task declared later in the list.
func BuildGraph(tasks []models.PatternTask) (*graph.TaskGraph, error) {
	g := graph.New()
	ids := make(map[string]string, len(tasks))
	for _, task := range tasks {
		id, err := g.AddTask(task.Type, task.Config, nil)
		if err != nil {
			return nil, err
		}
		ids[task.ID] = id
	}

	for _, task := range tasks {
		for _, dep := range task.Dependencies {
			depID, ok := ids[dep]
			if !ok {
				return nil, &models.InvalidConfigError{
					Reason: fmt.Sprintf("task %q depends on undeclared task %q", task.ID, dep),
				}
			}
			if err := g.SetDependency(depID, ids[task.ID]); err != nil {
				return nil, err
			}
		}
	}

	return g, nil
}

// PersistExecution snapshots a finished graph into a single immutable
// execution record. The record's status is derived from the node statuses,
// its span runs from graph creation to now.
func (s *Service) PersistExecution(ctx context.Context, g *graph.TaskGraph, patternID, executionID string) (string, error) {
	if executionID == "" {
		executionID = uuid.New().String()
	}

	state := g.State()
	record := &models.ExecutionRecord{
		ExecutionID: executionID,
		PatternID:   patternID,
		Status:      models.DeriveExecutionStatus(state),
		GraphState:  state,
		Metrics:     models.ExecutionMetrics(state),
		CreatedAt:   g.CreatedAt(),
		CompletedAt: time.Now().UTC(),
	}

	if err := s.store.SaveExecution(ctx, record); err != nil {
		logger.Error("failed to persist execution",
			"execution_id", executionID, "pattern_id", patternID, "error", err)
		return "", err
	}

	logger.Info("persisted execution",
		"execution_id", executionID, "pattern_id", patternID, "status", record.Status)
	return executionID, nil
}

// AnalyzePerformance aggregates the most recent finished executions of a
// pattern. A pattern with no history yields a zeroed analysis, not an error.
// Metric keys absent from some executions are averaged only over the
// executions that carry them.
func (s *Service) AnalyzePerformance(ctx context.Context, patternID string, numExecutions int) (*models.PerformanceAnalysis, error) {
	if numExecutions <= 0 {
		numExecutions = DefaultAnalysisWindow
	}

	records, err := s.store.RecentExecutions(ctx, patternID, numExecutions)
	if err != nil {
		return nil, err
	}

	analysis := &models.PerformanceAnalysis{
		PerformanceMetrics: make(map[string]float64),
	}
	if len(records) == 0 {
		return analysis, nil
	}

	var totalSeconds float64
	succeeded := 0
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, record := range records {
		totalSeconds += record.Duration().Seconds()
		if record.Status == models.ExecutionStatusCompleted {
			succeeded++
		}
		for key, value := range record.Metrics {
			sums[key] += value
			counts[key]++
		}
	}

	analysis.NumExecutions = len(records)
	analysis.AverageDuration = totalSeconds / float64(len(records))
	analysis.SuccessRate = float64(succeeded) / float64(len(records))
	for key, sum := range sums {
		analysis.PerformanceMetrics[key] = sum / float64(counts[key])
	}
	return analysis, nil
}

// OptimizePattern mines a pattern's task list for advisory suggestions.
// Suggestions are never applied to the pattern; when any are found they are
// recorded as a new version whose metadata carries the suggestion list and
// the performance analysis behind it.
func (s *Service) OptimizePattern(ctx context.Context, patternID, target string) (*models.OptimizationReport, error) {
	pattern, err := s.store.GetPattern(ctx, patternID)
	if err != nil {
		return nil, err
	}
	tasks, err := models.TasksFromConfig(pattern.Config)
	if err != nil {
		return nil, err
	}

	var optimizations []models.Optimization
	switch target {
	case models.TargetExecutionTime:
		optimizations = parallelizationSuggestions(tasks)
	case models.TargetResourceUsage:
		optimizations = consolidationSuggestions(tasks)
	default:
		return nil, &models.InvalidConfigError{
			Reason: fmt.Sprintf("unknown optimization target %q", target),
		}
	}

	analysis, err := s.AnalyzePerformance(ctx, patternID, DefaultAnalysisWindow)
	if err != nil {
		return nil, err
	}

	report := &models.OptimizationReport{
		Optimizations:      optimizations,
		Analysis:           analysis,
		OptimizationTarget: target,
	}
	if len(optimizations) == 0 {
		return report, nil
	}

	history, err := s.store.GetPatternHistory(ctx, patternID)
	if err != nil {
		return nil, err
	}
	tag := fmt.Sprintf("v%d", len(history)+1)

	metadata := models.Payload{
		"optimization_target": target,
		"optimizations":       optimizations,
		"analysis":            analysis,
	}
	if _, err := s.store.CreatePatternVersion(ctx, patternID, tag, pattern.Config, metadata); err != nil {
		return nil, err
	}
	report.VersionTag = tag

	logger.Info("recorded optimization suggestions",
		"pattern_id", patternID, "target", target,
		"suggestions", len(optimizations), "version", tag)
	return report, nil
}

// parallelizationSuggestions pairs up tasks with no declared dependency in
// either direction. Only direct declarations are consulted, not the
// transitive closure, so a pair linked through an intermediate task is still
// suggested.
func parallelizationSuggestions(tasks []models.PatternTask) []models.Optimization {
	deps := make(map[string]map[string]bool, len(tasks))
	for _, task := range tasks {
		m := make(map[string]bool, len(task.Dependencies))
		for _, dep := range task.Dependencies {
			m[dep] = true
		}
		deps[task.ID] = m
	}

	var out []models.Optimization
	for i := 0; i < len(tasks); i++ {
		for j := i + 1; j < len(tasks); j++ {
			a, b := tasks[i], tasks[j]
			if deps[a.ID][b.ID] || deps[b.ID][a.ID] {
				continue
			}
			out = append(out, models.Optimization{
				Type:   models.OptimizationParallelization,
				Tasks:  []string{a.ID, b.ID},
				Reason: fmt.Sprintf("tasks %q and %q declare no dependency on each other", a.ID, b.ID),
			})
		}
	}
	return out
}

// consolidationSuggestions groups tasks by type and suggests merging every
// type that occurs more than once.
func consolidationSuggestions(tasks []models.PatternTask) []models.Optimization {
	byType := make(map[string][]string)
	var order []string
	for _, task := range tasks {
		if len(byType[task.Type]) == 0 {
			order = append(order, task.Type)
		}
		byType[task.Type] = append(byType[task.Type], task.ID)
	}

	var out []models.Optimization
	for _, taskType := range order {
		ids := byType[taskType]
		if len(ids) < 2 {
			continue
		}
		out = append(out, models.Optimization{
			Type:     models.OptimizationConsolidation,
			Tasks:    ids,
			TaskType: taskType,
			Reason:   fmt.Sprintf("%d tasks share type %q", len(ids), taskType),
		})
	}
	return out
}
