// cmd/loomd/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/weftlabs/loom/internal/api/routes"
	"github.com/weftlabs/loom/internal/config"
	"github.com/weftlabs/loom/internal/integration"
	"github.com/weftlabs/loom/internal/queue"
	"github.com/weftlabs/loom/internal/registry"
	"github.com/weftlabs/loom/internal/runner"
	"github.com/weftlabs/loom/internal/storage"
	"github.com/weftlabs/loom/internal/storage/leveldb"
	"github.com/weftlabs/loom/internal/storage/memory"
	"github.com/weftlabs/loom/internal/storage/neo4j"
	"github.com/weftlabs/loom/internal/storage/postgres"
	"github.com/weftlabs/loom/internal/worker"
	"github.com/weftlabs/loom/pkg/logger"
)

// openStore connects the configured pattern store backend and prepares its
// schema. The driver was already validated by config.Load.
func openStore(ctx context.Context, cfg *config.Config) (storage.PatternStore, error) {
	switch cfg.Store.Driver {
	case config.DriverNeo4j:
		client, err := neo4j.NewClient(ctx, cfg.Store.Neo4j)
		if err != nil {
			return nil, err
		}
		if err := client.InitSchema(ctx); err != nil {
			return nil, err
		}
		return client, nil
	case config.DriverPostgres:
		client, err := postgres.NewClient(cfg.Store.Postgres)
		if err != nil {
			return nil, err
		}
		if err := client.InitSchema(ctx); err != nil {
			return nil, err
		}
		return client, nil
	case config.DriverMemory:
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func fatal(msg string, keyvals ...any) {
	logger.Error(msg, keyvals...)
	os.Exit(1)
}

func main() {
	configPath := os.Getenv("LOOM_CONFIG_FILE")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("failed to load config", "error", err)
	}

	logger.Init(&logger.Config{
		Level:  logger.LogLevel(cfg.Log.Level),
		Output: os.Stdout,
		JSON:   cfg.Log.JSON,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the pattern store backend
	store, err := openStore(ctx, cfg)
	if err != nil {
		fatal("failed to initialize pattern store", "driver", cfg.Store.Driver, "error", err)
	}
	defer store.Close(context.Background())

	// Initialize the LevelDB pattern cache
	cache, err := leveldb.NewClient(cfg.Cache, time.Duration(cfg.Cache.TTLHours)*time.Hour)
	if err != nil {
		fatal("failed to initialize cache", "error", err)
	}
	defer cache.Close()

	cached := storage.NewCachedStore(store, cache)

	// Initialize the NATS execution queue
	q, err := queue.NewClient(cfg.NATS)
	if err != nil {
		fatal("failed to connect to NATS", "url", cfg.NATS.URL, "error", err)
	}
	defer q.Close()

	// Register the built-in task handlers
	handlers := worker.NewRegistry()
	if err := worker.RegisterBuiltins(handlers); err != nil {
		fatal("failed to register task handlers", "error", err)
	}

	// Seed patterns declared in the config file
	reg := registry.NewRegistry(cached)
	if err := reg.Seed(ctx, cfg.Patterns); err != nil {
		fatal("failed to seed patterns", "error", err)
	}

	svc := integration.NewService(cached)
	run := runner.NewRunner(cfg, svc, q, handlers)

	router := routes.SetupRouter(cfg, cached, reg, svc, q, run)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Start the execution runner
	go func() {
		if err := run.Start(ctx); err != nil {
			logger.Error("runner stopped with error", "error", err)
			cancel()
		}
	}()

	// Start the HTTP server
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped with error", "error", err)
			cancel()
		}
	}()

	// Wait for a shutdown signal or a failed component
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	// Stop accepting HTTP traffic first, then drain the runner. In-flight
	// executions keep their context so they can finish and persist.
	shutdownTimeout := time.Duration(cfg.Worker.ShutdownTimeout) * time.Second
	shCtx, shCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shCancel()
	if err := srv.Shutdown(shCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := run.Shutdown(shutdownTimeout); err != nil {
		logger.Error("runner shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
