// internal/worker/handlers.go
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/weftlabs/loom/internal/models"
	"github.com/weftlabs/loom/pkg/logger"
)

// Noop completes immediately without producing a result.
func Noop(ctx context.Context, config models.Payload) (models.Payload, error) {
	return nil, nil
}

// Sleep blocks for duration_ms milliseconds, or 1000 when unset.
func Sleep(ctx context.Context, config models.Payload) (models.Payload, error) {
	millis, ok := config.Number("duration_ms")
	if !ok {
		millis = 1000
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Duration(millis) * time.Millisecond):
		return models.Payload{"slept_ms": millis}, nil
	}
}

// Echo returns its config payload as the task result.
func Echo(ctx context.Context, config models.Payload) (models.Payload, error) {
	logger.Debug("echo task", "config", config)
	return config.Clone(), nil
}

// Fail always fails, with the configured message when one is set.
func Fail(ctx context.Context, config models.Payload) (models.Payload, error) {
	msg, _ := config["message"].(string)
	if msg == "" {
		msg = "task configured to fail"
	}
	return nil, errors.New(msg)
}

// RegisterBuiltins installs the stock handlers on a registry. They cover
// smoke testing and pattern development; real deployments register their own
// handlers next to these.
func RegisterBuiltins(r *Registry) error {
	builtins := map[string]HandlerFunc{
		"noop":  Noop,
		"sleep": Sleep,
		"echo":  Echo,
		"fail":  Fail,
	}

	for taskType, fn := range builtins {
		if err := r.Register(taskType, fn); err != nil {
			return err
		}
	}
	return nil
}
