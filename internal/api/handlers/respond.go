// internal/api/handlers/respond.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/weftlabs/loom/internal/graph"
	"github.com/weftlabs/loom/internal/models"
	"github.com/weftlabs/loom/internal/storage"
	"github.com/weftlabs/loom/pkg/logger"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// writeError maps domain errors onto HTTP statuses: unknown ids are 404,
// config problems are 400, cycles are 409, backend failures are 502.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var storeErr *storage.StoreError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, graph.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidConfig):
		status = http.StatusBadRequest
	case errors.Is(err, graph.ErrCycle):
		status = http.StatusConflict
	case errors.As(err, &storeErr):
		status = http.StatusBadGateway
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}
