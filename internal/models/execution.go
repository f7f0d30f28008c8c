// internal/models/execution.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the derived outcome of a whole pattern run. It is never
// asserted directly: completed iff every task completed, failed if any task
// failed, partial otherwise.
type ExecutionStatus string

const (
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusPartial   ExecutionStatus = "partial"
)

// DeriveExecutionStatus computes the run outcome from a graph snapshot.
func DeriveExecutionStatus(state *GraphState) ExecutionStatus {
	completed := 0
	for _, node := range state.Nodes {
		switch node.Status {
		case TaskStatusFailed:
			return ExecutionStatusFailed
		case TaskStatusCompleted:
			completed++
		}
	}
	if completed == len(state.Nodes) {
		return ExecutionStatusCompleted
	}
	return ExecutionStatusPartial
}

// ExecutionRecord is the immutable persisted form of one finished pattern
// run: the full graph snapshot plus derived status and metrics. Records
// outlive their pattern; deleting a pattern orphans its history on purpose.
type ExecutionRecord struct {
	ExecutionID string             `json:"execution_id"`
	PatternID   string             `json:"pattern_id"`
	Status      ExecutionStatus    `json:"status"`
	GraphState  *GraphState        `json:"graph_state"`
	Metrics     map[string]float64 `json:"metrics"`
	CreatedAt   time.Time          `json:"created_at"`
	CompletedAt time.Time          `json:"completed_at"`
}

// Duration is the wall-clock span of the run.
func (e *ExecutionRecord) Duration() time.Duration {
	return e.CompletedAt.Sub(e.CreatedAt)
}

// ExecutionMetrics computes the aggregate numbers stored with every
// execution record.
func ExecutionMetrics(state *GraphState) map[string]float64 {
	totalTasks := len(state.Nodes)
	completed := 0
	failed := 0
	for _, node := range state.Nodes {
		switch node.Status {
		case TaskStatusCompleted:
			completed++
		case TaskStatusFailed:
			failed++
		}
	}

	totalEdges := 0
	for _, dependents := range state.Edges {
		totalEdges += len(dependents)
	}

	incoming := 0
	for _, deps := range state.ReverseEdges {
		incoming += len(deps)
	}
	avgDeps := 0.0
	if totalTasks > 0 {
		avgDeps = float64(incoming) / float64(totalTasks)
	}

	return map[string]float64{
		"total_tasks":          float64(totalTasks),
		"completed_tasks":      float64(completed),
		"failed_tasks":         float64(failed),
		"total_edges":          float64(totalEdges),
		"average_dependencies": avgDeps,
	}
}

// ExecutionRequest is the queue message asking the runner to instantiate and
// drive one pattern run. ExecutionID is pre-generated by the enqueuer so the
// caller can poll for the record before the run finishes persisting.
type ExecutionRequest struct {
	ExecutionID string    `json:"execution_id"`
	PatternID   string    `json:"pattern_id"`
	Overrides   Payload   `json:"overrides,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// NewExecutionRequest builds a request with a fresh execution id.
func NewExecutionRequest(patternID string, overrides Payload) *ExecutionRequest {
	return &ExecutionRequest{
		ExecutionID: uuid.New().String(),
		PatternID:   patternID,
		Overrides:   overrides,
		EnqueuedAt:  time.Now().UTC(),
	}
}

// PerformanceAnalysis aggregates recent execution history for one pattern.
// Zero values (not an error) signal "no finished executions yet".
type PerformanceAnalysis struct {
	NumExecutions      int                `json:"num_executions"`
	AverageDuration    float64            `json:"average_duration_seconds"`
	SuccessRate        float64            `json:"success_rate"`
	PerformanceMetrics map[string]float64 `json:"performance_metrics"`
}

// Optimization targets accepted by the optimizer.
const (
	TargetExecutionTime = "execution_time"
	TargetResourceUsage = "resource_usage"
)

// Optimization suggestion kinds.
const (
	OptimizationParallelization = "parallelization"
	OptimizationConsolidation   = "consolidation"
)

// Optimization is a single advisory suggestion mined from a pattern's
// structure.
type Optimization struct {
	Type     string   `json:"type"`
	Tasks    []string `json:"tasks"`
	TaskType string   `json:"task_type,omitempty"`
	Reason   string   `json:"reason"`
}

// OptimizationReport is the outcome of one optimizer pass. Suggestions are
// advisory: when any exist they are recorded as a new pattern version, never
// applied in place.
type OptimizationReport struct {
	Optimizations      []Optimization       `json:"optimizations"`
	Analysis           *PerformanceAnalysis `json:"analysis"`
	OptimizationTarget string               `json:"optimization_target"`
	VersionTag         string               `json:"version_tag,omitempty"`
}
