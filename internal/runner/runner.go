// internal/runner/runner.go
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/loom/internal/config"
	"github.com/weftlabs/loom/internal/graph"
	"github.com/weftlabs/loom/internal/integration"
	"github.com/weftlabs/loom/internal/models"
	"github.com/weftlabs/loom/internal/queue"
	"github.com/weftlabs/loom/internal/telemetry"
	"github.com/weftlabs/loom/internal/worker"
	"github.com/weftlabs/loom/pkg/logger"
)

// Runner consumes execution requests from the queue and drives task graphs
// to completion. MaxWorkers bounds concurrent executions; within one
// execution every ready task runs in parallel.
type Runner struct {
	id           string
	config       *config.Config
	svc          *integration.Service
	queue        *queue.Client
	handlers     *worker.Registry
	workerPool   chan struct{}
	workers      sync.WaitGroup
	stopChan     chan struct{}
	isShutdown   bool
	shutdownLock sync.RWMutex
	ongoingRuns  sync.Map
}

func NewRunner(cfg *config.Config, svc *integration.Service, q *queue.Client, handlers *worker.Registry) *Runner {
	return &Runner{
		id:         uuid.New().String(),
		config:     cfg,
		svc:        svc,
		queue:      q,
		handlers:   handlers,
		workerPool: make(chan struct{}, cfg.Worker.MaxWorkers),
		stopChan:   make(chan struct{}),
	}
}

// ID returns this runner's instance id.
func (r *Runner) ID() string {
	return r.id
}

// Start begins the runner's main consume loop. It blocks until the context
// is cancelled or Shutdown is called.
func (r *Runner) Start(ctx context.Context) error {
	logger.Info("starting runner",
		"runner_id", r.id,
		"max_workers", r.config.Worker.MaxWorkers,
		"handlers", r.handlers.Types())

	executions, err := r.queue.ConsumeExecutions(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming executions: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stopChan:
			return nil
		case msg, ok := <-executions:
			if !ok {
				return fmt.Errorf("execution channel closed")
			}

			var req models.ExecutionRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				logger.Error("dropping undecodable execution request", "error", err)
				telemetry.DroppedMessages.Inc()
				continue
			}

			// Core NATS cannot requeue, so a full pool applies backpressure
			// by pausing the consume loop until a slot frees up.
			select {
			case r.workerPool <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			case <-r.stopChan:
				return nil
			}

			r.workers.Add(1)
			go func(req models.ExecutionRequest) {
				defer func() {
					<-r.workerPool
					r.workers.Done()
				}()

				if err := r.processExecution(ctx, &req); err != nil {
					logger.Error("execution processing failed",
						"execution_id", req.ExecutionID, "error", err)
				}
			}(req)
		}
	}
}

// processExecution handles one execution request end to end: instantiate the
// pattern, drive the graph, persist the outcome. The outcome is persisted
// even when the run was interrupted.
func (r *Runner) processExecution(ctx context.Context, req *models.ExecutionRequest) error {
	r.ongoingRuns.Store(req.ExecutionID, req.PatternID)
	telemetry.ActiveExecutions.Inc()
	defer func() {
		r.ongoingRuns.Delete(req.ExecutionID)
		telemetry.ActiveExecutions.Dec()
	}()

	logger.Info("processing execution",
		"execution_id", req.ExecutionID, "pattern_id", req.PatternID)

	g, err := r.svc.InstantiatePattern(ctx, req.PatternID, req.Overrides)
	if err != nil {
		return fmt.Errorf("failed to instantiate pattern %s: %w", req.PatternID, err)
	}

	if err := r.executeGraph(ctx, g); err != nil {
		logger.Warn("execution interrupted",
			"execution_id", req.ExecutionID, "error", err)
	}

	// A cancelled run still gets its partial progress recorded.
	persistCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		persistCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	if _, err := r.svc.PersistExecution(persistCtx, g, req.PatternID, req.ExecutionID); err != nil {
		return fmt.Errorf("failed to persist execution %s: %w", req.ExecutionID, err)
	}

	status := string(models.DeriveExecutionStatus(g.State()))
	telemetry.ExecutionsTotal.WithLabelValues(status).Inc()
	telemetry.ExecutionDuration.WithLabelValues(status).Observe(time.Since(g.CreatedAt()).Seconds())
	return nil
}

// executeGraph drives a task graph until no task can make progress: every
// ready task is dispatched in parallel, and a failed task only starves its
// own dependents while independent branches keep running.
func (r *Runner) executeGraph(ctx context.Context, g *graph.TaskGraph) error {
	scheduled := make(map[string]bool, g.Len())
	poll := time.Duration(r.config.Worker.PollIntervalMs) * time.Millisecond
	var wg sync.WaitGroup

	// Counter for in-flight tasks with mutex protection
	inflight := &struct {
		count int
		mu    sync.Mutex
	}{}

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		default:
		}
		telemetry.PollCycles.Inc()

		for _, taskID := range g.ReadyTasks() {
			if scheduled[taskID] {
				continue
			}
			scheduled[taskID] = true

			inflight.mu.Lock()
			inflight.count++
			inflight.mu.Unlock()

			wg.Add(1)
			go func(taskID string) {
				defer wg.Done()
				defer func() {
					inflight.mu.Lock()
					inflight.count--
					inflight.mu.Unlock()
				}()

				r.runTask(ctx, g, taskID)
			}(taskID)
		}

		inflight.mu.Lock()
		active := inflight.count
		inflight.mu.Unlock()

		// Dispatched work is counted before this check, so an empty frontier
		// with nothing in flight means the run is finished or starved.
		if active == 0 && len(g.ReadyTasks()) == 0 {
			break
		}

		time.Sleep(poll)
	}

	wg.Wait()
	return nil
}

// runTask executes a single task through its registered handler and records
// the outcome on the graph.
func (r *Runner) runTask(ctx context.Context, g *graph.TaskGraph, taskID string) {
	info, err := g.TaskInfo(taskID)
	if err != nil {
		logger.Error("task missing from graph", "task_id", taskID, "error", err)
		return
	}
	taskType := info.Task.TaskType

	if err := g.UpdateTaskStatus(taskID, models.TaskStatusRunning, nil, nil); err != nil {
		logger.Error("failed to mark task running", "task_id", taskID, "error", err)
		return
	}

	fn, err := r.handlers.Get(taskType)
	if err != nil {
		logger.Warn("task has no handler", "task_id", taskID, "task_type", taskType)
		if uerr := g.UpdateTaskStatus(taskID, models.TaskStatusFailed, nil, err); uerr != nil {
			logger.Error("failed to mark task failed", "task_id", taskID, "error", uerr)
		}
		telemetry.TasksTotal.WithLabelValues(taskType, "failed").Inc()
		return
	}

	start := time.Now()
	result, err := fn(ctx, info.Task.Config)
	telemetry.TaskDuration.WithLabelValues(taskType).Observe(time.Since(start).Seconds())

	if err != nil {
		logger.Warn("task failed", "task_id", taskID, "task_type", taskType, "error", err)
		if uerr := g.UpdateTaskStatus(taskID, models.TaskStatusFailed, nil, err); uerr != nil {
			logger.Error("failed to mark task failed", "task_id", taskID, "error", uerr)
		}
		telemetry.TasksTotal.WithLabelValues(taskType, "failed").Inc()
		return
	}

	if uerr := g.UpdateTaskStatus(taskID, models.TaskStatusCompleted, result, nil); uerr != nil {
		logger.Error("failed to mark task completed", "task_id", taskID, "error", uerr)
	}
	telemetry.TasksTotal.WithLabelValues(taskType, "completed").Inc()
}

// ActiveExecutions counts executions currently held by this runner.
func (r *Runner) ActiveExecutions() int {
	active := 0
	r.ongoingRuns.Range(func(key, value any) bool {
		active++
		return true
	})
	return active
}

// Shutdown stops consuming and waits for in-flight executions to finish.
func (r *Runner) Shutdown(timeout time.Duration) error {
	r.shutdownLock.Lock()
	if r.isShutdown {
		r.shutdownLock.Unlock()
		return nil
	}
	r.isShutdown = true
	r.shutdownLock.Unlock()

	close(r.stopChan)

	done := make(chan struct{})
	go func() {
		r.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timed out after %v", timeout)
	}
}

// IsShutdown returns the current shutdown status.
func (r *Runner) IsShutdown() bool {
	r.shutdownLock.RLock()
	defer r.shutdownLock.RUnlock()
	return r.isShutdown
}
