// internal/api/handlers/pattern_handler.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/weftlabs/loom/internal/integration"
	"github.com/weftlabs/loom/internal/models"
	"github.com/weftlabs/loom/internal/registry"
	"github.com/weftlabs/loom/internal/storage"
)

// Queue is the messaging surface the API depends on.
type Queue interface {
	PublishExecution(ctx context.Context, req *models.ExecutionRequest) error
	Connected() bool
}

type PatternHandler struct {
	store    storage.PatternStore
	registry *registry.Registry
	svc      *integration.Service
	queue    Queue
}

func NewPatternHandler(store storage.PatternStore, reg *registry.Registry, svc *integration.Service, queue Queue) *PatternHandler {
	return &PatternHandler{
		store:    store,
		registry: reg,
		svc:      svc,
		queue:    queue,
	}
}

func (h *PatternHandler) CreatePattern(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PatternType string         `json:"pattern_type"`
		Config      models.Payload `json:"config"`
		Metadata    models.Payload `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	pattern, err := h.registry.Register(r.Context(), uuid.New().String(), body.PatternType, body.Config, body.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, pattern)
}

func (h *PatternHandler) GetPattern(w http.ResponseWriter, r *http.Request) {
	pattern, err := h.store.GetPattern(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pattern)
}

func (h *PatternHandler) SearchPatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := h.store.SearchPatterns(r.Context(),
		r.URL.Query().Get("type"), metadataFilters(r.URL.Query()))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"patterns": patterns,
		"count":    len(patterns),
	})
}

func (h *PatternHandler) UpdatePattern(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Config   models.Payload `json:"config"`
		Metadata models.Payload `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	// A replacement config has to be buildable before it lands in the store.
	if body.Config != nil {
		if err := registry.ValidateConfig(body.Config); err != nil {
			writeError(w, err)
			return
		}
	}

	pattern, err := h.store.UpdatePattern(r.Context(), chi.URLParam(r, "id"), body.Config, body.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pattern)
}

func (h *PatternHandler) DeletePattern(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeletePattern(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *PatternHandler) LinkPatterns(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ToID       string         `json:"to_id"`
		RelType    string         `json:"rel_type"`
		Properties models.Payload `json:"properties"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if body.ToID == "" || body.RelType == "" {
		badRequest(w, "to_id and rel_type are required")
		return
	}

	if err := h.store.LinkPatterns(r.Context(), chi.URLParam(r, "id"), body.ToID, body.RelType, body.Properties); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"message": "patterns linked"})
}

func (h *PatternHandler) GetPatternHistory(w http.ResponseWriter, r *http.Request) {
	versions, err := h.store.GetPatternHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"versions": versions,
		"count":    len(versions),
	})
}

func (h *PatternHandler) CreatePatternVersion(w http.ResponseWriter, r *http.Request) {
	patternID := chi.URLParam(r, "id")

	var body struct {
		VersionTag string         `json:"version_tag"`
		Config     models.Payload `json:"config"`
		Metadata   models.Payload `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if body.VersionTag == "" {
		badRequest(w, "version_tag is required")
		return
	}

	// Omitted config snapshots the pattern's current config.
	if body.Config == nil {
		pattern, err := h.store.GetPattern(r.Context(), patternID)
		if err != nil {
			writeError(w, err)
			return
		}
		body.Config = pattern.Config
	}

	version, err := h.store.CreatePatternVersion(r.Context(), patternID, body.VersionTag, body.Config, body.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, version)
}

func (h *PatternHandler) ExecutePattern(w http.ResponseWriter, r *http.Request) {
	patternID := chi.URLParam(r, "id")

	// Overrides are optional, an empty body means none.
	var body struct {
		Overrides models.Payload `json:"overrides"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		body.Overrides = nil
	}

	// Fail fast on unknown patterns instead of bouncing the request off a
	// runner later.
	if _, err := h.store.GetPattern(r.Context(), patternID); err != nil {
		writeError(w, err)
		return
	}

	req := models.NewExecutionRequest(patternID, body.Overrides)
	if err := h.queue.PublishExecution(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message":      "execution queued",
		"execution_id": req.ExecutionID,
	})
}

func (h *PatternHandler) RecentExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.store.RecentExecutions(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"executions": records,
		"count":      len(records),
	})
}

func (h *PatternHandler) AnalyzePerformance(w http.ResponseWriter, r *http.Request) {
	window := 0
	if s := r.URL.Query().Get("window"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			badRequest(w, "window must be an integer")
			return
		}
		window = n
	}

	analysis, err := h.svc.AnalyzePerformance(r.Context(), chi.URLParam(r, "id"), window)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, analysis)
}

func (h *PatternHandler) OptimizePattern(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	report, err := h.svc.OptimizePattern(r.Context(), chi.URLParam(r, "id"), body.Target)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// metadataFilters collects meta.<key>=<value> query parameters. Values are
// parsed as JSON so numbers and booleans filter correctly; anything that does
// not parse is matched as a string.
func metadataFilters(values map[string][]string) models.Payload {
	filters := models.Payload{}
	for key, vals := range values {
		if !strings.HasPrefix(key, "meta.") || len(vals) == 0 {
			continue
		}
		name := strings.TrimPrefix(key, "meta.")

		var v any
		if err := json.Unmarshal([]byte(vals[0]), &v); err != nil {
			v = vals[0]
		}
		filters[name] = v
	}

	if len(filters) == 0 {
		return nil
	}
	return filters
}
