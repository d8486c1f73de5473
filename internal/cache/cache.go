// Package cache is the best-effort response cache. Store failures never reach
// callers: a failed read is a miss and a failed write is dropped.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sort"
	"time"
)

// CacheStore is a byte-oriented key/value backend.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Cache wraps a CacheStore with per-operation timeouts and error absorption.
type Cache struct {
	store     CacheStore
	opTimeout time.Duration
	logger    *slog.Logger
}

func New(store CacheStore, opTimeout time.Duration, logger *slog.Logger) *Cache {
	if store == nil {
		store = Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, opTimeout: opTimeout, logger: logger}
}

func (c *Cache) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.opTimeout)
}

// GetJSON decodes a cached value into dst. It reports false on miss, on
// store failure and on undecodable entries.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) bool {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Debug("cache get failed", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Debug("cache entry undecodable", "key", key, "error", err)
		return false
	}
	return true
}

// SetJSON stores v under key. Failures are logged and dropped.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Debug("cache encode failed", "key", key, "error", err)
		return
	}

	ctx, cancel := c.opContext(ctx)
	defer cancel()

	if err := c.store.Set(ctx, key, raw, ttl); err != nil {
		c.logger.Debug("cache set failed", "key", key, "error", err)
	}
}

func (c *Cache) Close() error {
	return c.store.Close()
}

// Fingerprint derives a cache key from an endpoint and its parameters.
// Parameter order does not matter.
func Fingerprint(endpoint string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([][2]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, [2]string{k, params[k]})
	}
	canonical, _ := json.Marshal(struct {
		Endpoint string      `json:"e"`
		Params   [][2]string `json:"p"`
	}{endpoint, pairs})

	sum := sha256.Sum256(canonical)
	return endpoint + ":" + hex.EncodeToString(sum[:16])
}
