// internal/storage/leveldb/client_test.go
package leveldb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/loom/internal/config"
)

func newTestClient(t *testing.T, ttl time.Duration) *Client {
	t.Helper()
	c, err := NewClient(config.CacheConfig{Path: t.TempDir()}, ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPutGetDelete(t *testing.T) {
	c := newTestClient(t, time.Hour)

	require.NoError(t, c.Put("pattern/abc", []byte(`{"type":"etl"}`)))

	got, err := c.Get("pattern/abc")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"type":"etl"}`), got)

	require.NoError(t, c.Delete("pattern/abc"))
	got, err = c.Get("pattern/abc")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetMissingKey(t *testing.T) {
	c := newTestClient(t, time.Hour)

	got, err := c.Get("pattern/nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestExpiry(t *testing.T) {
	c := newTestClient(t, 10*time.Millisecond)

	require.NoError(t, c.Put("pattern/old", []byte("x")))
	time.Sleep(30 * time.Millisecond)

	got, err := c.Get("pattern/old")
	require.NoError(t, err)
	assert.Nil(t, got, "expired entries read as misses")

	n, err := c.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLenCountsLiveEntries(t *testing.T) {
	c := newTestClient(t, time.Hour)

	require.NoError(t, c.Put("pattern/a", []byte("1")))
	require.NoError(t, c.Put("pattern/b", []byte("2")))

	n, err := c.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOverwrite(t *testing.T) {
	c := newTestClient(t, time.Hour)

	require.NoError(t, c.Put("pattern/a", []byte("old")))
	require.NoError(t, c.Put("pattern/a", []byte("new")))

	got, err := c.Get("pattern/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
}
