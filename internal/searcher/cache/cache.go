// Package cache memoizes lookup results in Redis. Keys embed the index
// generation, so a result computed before a mutating tick is never served
// after it.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	pkgredis "github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/redis"
)

const keyPrefix = "lookup:"

// Backend is the key/value store behind the cache; *pkgredis.Client
// satisfies it.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Result is one cached lookup.
type Result struct {
	Query      string   `json:"query"`
	Words      []string `json:"words"`
	Paths      []string `json:"paths"`
	Total      int      `json:"total"`
	Generation uint64   `json:"generation"`
}

type LookupCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(backend Backend, ttl time.Duration) *LookupCache {
	return &LookupCache{
		backend: backend,
		ttl:     ttl,
		logger:  slog.Default().With("component", "lookup-cache"),
	}
}

func (c *LookupCache) Get(ctx context.Context, words []string, generation uint64) (*Result, bool) {
	result, ok := c.lookup(ctx, words, generation)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "words", words, "generation", generation)
	return result, true
}

func (c *LookupCache) lookup(ctx context.Context, words []string, generation uint64) (*Result, bool) {
	key := buildKey(words, generation)
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	var result Result
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return &result, true
}

func (c *LookupCache) Set(ctx context.Context, words []string, generation uint64, result *Result) {
	key := buildKey(words, generation)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for words at generation, or runs
// compute once per key no matter how many callers ask concurrently.
func (c *LookupCache) GetOrCompute(
	ctx context.Context,
	words []string,
	generation uint64,
	compute func() (*Result, error),
) (*Result, bool, error) {
	if result, ok := c.Get(ctx, words, generation); ok {
		return result, true, nil
	}
	key := buildKey(words, generation)
	val, err, _ := c.group.Do(key, func() (any, error) {
		if result, ok := c.lookup(ctx, words, generation); ok {
			return result, nil
		}
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, words, generation, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*Result), false, nil
}

// Invalidate deletes every cached lookup.
func (c *LookupCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *LookupCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// buildKey is order sensitive: lookup results list paths per word in query
// order.
func buildKey(words []string, generation uint64) string {
	raw := fmt.Sprintf("%s|gen=%d", strings.Join(words, "\x00"), generation)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
