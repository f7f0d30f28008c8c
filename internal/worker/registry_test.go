// internal/worker/registry_test.go
package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/loom/internal/models"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("noop", Noop))

	fn, err := r.Get("noop")
	require.NoError(t, err)
	assert.NotNil(t, fn)

	err = r.Register("noop", Noop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	_, err = r.Get("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"unknown"`)
}

func TestRegistryTypes(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))
	assert.Equal(t, []string{"echo", "fail", "noop", "sleep"}, r.Types())
}

func TestEchoReturnsClone(t *testing.T) {
	config := models.Payload{"key": "value"}
	result, err := Echo(context.Background(), config)
	require.NoError(t, err)

	result["key"] = "mutated"
	assert.Equal(t, "value", config["key"])
}

func TestFail(t *testing.T) {
	_, err := Fail(context.Background(), nil)
	require.EqualError(t, err, "task configured to fail")

	_, err = Fail(context.Background(), models.Payload{"message": "disk full"})
	require.EqualError(t, err, "disk full")
}

func TestSleep(t *testing.T) {
	result, err := Sleep(context.Background(), models.Payload{"duration_ms": 5})
	require.NoError(t, err)
	assert.Equal(t, float64(5), result["slept_ms"])
}

func TestSleepHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Sleep(ctx, models.Payload{"duration_ms": 5000})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
