// internal/api/handlers/status_handler.go
package handlers

import (
	"net/http"
	"time"

	"github.com/weftlabs/loom/internal/storage"
)

// RunnerInfo exposes the runner state reported by the status endpoint.
type RunnerInfo interface {
	ID() string
	ActiveExecutions() int
	IsShutdown() bool
}

type StatusHandler struct {
	store     storage.PatternStore
	queue     Queue
	runner    RunnerInfo
	startedAt time.Time
}

func NewStatusHandler(store storage.PatternStore, queue Queue, runner RunnerInfo) *StatusHandler {
	return &StatusHandler{
		store:     store,
		queue:     queue,
		runner:    runner,
		startedAt: time.Now(),
	}
}

func (h *StatusHandler) GetSystemStatus(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	storeStatus := "ok"
	if err := h.store.Ping(r.Context()); err != nil {
		status = "degraded"
		storeStatus = err.Error()
	}

	queueStatus := "connected"
	if !h.queue.Connected() {
		status = "degraded"
		queueStatus = "disconnected"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            status,
		"store":             storeStatus,
		"queue":             queueStatus,
		"runner_id":         h.runner.ID(),
		"runner_draining":   h.runner.IsShutdown(),
		"active_executions": h.runner.ActiveExecutions(),
		"uptime_seconds":    int(time.Since(h.startedAt).Seconds()),
	})
}
