// internal/api/routes/routes.go
package routes

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weftlabs/loom/internal/api/handlers"
	"github.com/weftlabs/loom/internal/config"
	"github.com/weftlabs/loom/internal/integration"
	"github.com/weftlabs/loom/internal/registry"
	"github.com/weftlabs/loom/internal/storage"
)

func SetupRouter(cfg *config.Config, store storage.PatternStore, reg *registry.Registry, svc *integration.Service, queue handlers.Queue, runner handlers.RunnerInfo) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Duration(cfg.Server.WriteTimeout) * time.Second))

	// Initialize handlers
	patternHandler := handlers.NewPatternHandler(store, reg, svc, queue)
	executionHandler := handlers.NewExecutionHandler(store)
	statusHandler := handlers.NewStatusHandler(store, queue, runner)

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		// Pattern endpoints
		r.Route("/patterns", func(r chi.Router) {
			r.Post("/", patternHandler.CreatePattern)
			r.Get("/", patternHandler.SearchPatterns)
			r.Get("/{id}", patternHandler.GetPattern)
			r.Put("/{id}", patternHandler.UpdatePattern)
			r.Delete("/{id}", patternHandler.DeletePattern)
			r.Post("/{id}/links", patternHandler.LinkPatterns)
			r.Get("/{id}/history", patternHandler.GetPatternHistory)
			r.Post("/{id}/versions", patternHandler.CreatePatternVersion)
			r.Post("/{id}/execute", patternHandler.ExecutePattern)
			r.Get("/{id}/executions", patternHandler.RecentExecutions)
			r.Get("/{id}/analysis", patternHandler.AnalyzePerformance)
			r.Post("/{id}/optimize", patternHandler.OptimizePattern)
		})

		// Execution endpoints
		r.Get("/executions/{id}", executionHandler.GetExecution)

		// System status endpoint
		r.Get("/system/status", statusHandler.GetSystemStatus)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	return r
}
