package csm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CommonSenseMachines/blender-mcp/logger"
)

const searchKeyPrefix = "csm:search:"

// Cache stores search results. Implementations treat failures as misses.
type Cache interface {
	Get(ctx context.Context, key string) (*SearchResult, bool)
	Set(ctx context.Context, key string, r *SearchResult, ttl time.Duration)
}

// searchCacheKey scopes cached results to the account that fetched them.
// The API key is stored only as a truncated hash.
func searchCacheKey(apiKey string, private bool, tier string, limit int, text string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return fmt.Sprintf("%s%s:%t:%s:%d:%s", searchKeyPrefix, hex.EncodeToString(sum[:8]),
		private, tier, limit, strings.ToLower(strings.TrimSpace(text)))
}

// RedisCache keeps search results in Redis.
type RedisCache struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedisCache connects to the Redis server at redisURL.
func NewRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client, log: logger.WithComponent("csm-cache")}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) (*SearchResult, bool) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	var result SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		r.log.Warn("discarding corrupt cache entry", "key", key, "error", err)
		return nil, false
	}
	return &result, true
}

func (r *RedisCache) Set(ctx context.Context, key string, result *SearchResult, ttl time.Duration) {
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		r.log.Warn("cache set failed", "key", key, "error", err)
	}
}

// Close closes the Redis connection.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	result  *SearchResult
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryCache) Get(_ context.Context, key string) (*SearchResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		delete(m.entries, key)
		return nil, false
	}
	return e.result, true
}

func (m *MemoryCache) Set(_ context.Context, key string, result *SearchResult, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{result: result}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
}
