// internal/storage/leveldb/client.go
package leveldb

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/weftlabs/loom/internal/config"
)

// entry wraps a cached value with its expiry deadline.
type entry struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Client is a TTL key-value cache on LevelDB. The daemon uses it as a local
// read cache for pattern documents so hot instantiations skip the store.
type Client struct {
	db              *leveldb.DB
	ttl             time.Duration
	cleanupInterval time.Duration
	mutex           sync.RWMutex
	stopCleanup     chan struct{}
}

func NewClient(cfg config.CacheConfig, ttl time.Duration) (*Client, error) {
	opts := &opt.Options{
		CompactionTableSize: 2 * 1024 * 1024, // 2MB
		WriteBuffer:         1 * 1024 * 1024, // 1MB
	}

	db, err := leveldb.OpenFile(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb: %w", err)
	}

	client := &Client{
		db:              db,
		ttl:             ttl,
		cleanupInterval: 1 * time.Hour,
		stopCleanup:     make(chan struct{}),
	}

	go client.startCleanupRoutine()

	return client, nil
}

func (c *Client) Close() error {
	close(c.stopCleanup)
	return c.db.Close()
}

func (c *Client) Put(key string, value []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	data, err := json.Marshal(entry{
		Value:     value,
		ExpiresAt: time.Now().Add(c.ttl),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	return c.db.Put([]byte(key), data, nil)
}

// Get returns the cached value, or nil when the key is absent or expired.
// Expired entries are deleted on read.
func (c *Client) Get(key string) ([]byte, error) {
	c.mutex.RLock()
	data, err := c.db.Get([]byte(key), nil)
	c.mutex.RUnlock()

	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	if time.Now().After(e.ExpiresAt) {
		if err := c.Delete(key); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return e.Value, nil
}

func (c *Client) Delete(key string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.db.Delete([]byte(key), nil)
}

// Len counts live (unexpired) entries. Used by the system status endpoint.
func (c *Client) Len() (int, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	iter := c.db.NewIterator(util.BytesPrefix([]byte{}), nil)
	defer iter.Release()

	now := time.Now()
	count := 0
	for iter.Next() {
		var e entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			continue
		}
		if now.Before(e.ExpiresAt) {
			count++
		}
	}
	return count, iter.Error()
}

func (c *Client) startCleanupRoutine() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *Client) cleanup() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	iter := c.db.NewIterator(util.BytesPrefix([]byte{}), nil)
	defer iter.Release()

	var expired [][]byte
	now := time.Now()
	for iter.Next() {
		var e entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			continue
		}
		if now.After(e.ExpiresAt) {
			key := append([]byte(nil), iter.Key()...)
			expired = append(expired, key)
		}
	}

	for _, key := range expired {
		c.db.Delete(key, nil)
	}
}
