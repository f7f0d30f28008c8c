// internal/api/handlers/execution_handler.go
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/weftlabs/loom/internal/storage"
)

type ExecutionHandler struct {
	store storage.PatternStore
}

func NewExecutionHandler(store storage.PatternStore) *ExecutionHandler {
	return &ExecutionHandler{store: store}
}

func (h *ExecutionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	record, err := h.store.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}
