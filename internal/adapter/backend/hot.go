// Package backend implements the three storage tiers behind the tiered
// router: Hot (Redis), Warm (locked local file), Cold (remote git content
// store). Each adapter confines side effects to its own medium and keeps
// absence distinct from failure.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"memtier/internal/domain"
)

// hotKeyPrefix namespaces all memtier keys in a shared Redis instance.
const hotKeyPrefix = "memtier:"

// errKeyMissing is returned by RedisClient.Get when the key does not exist.
var errKeyMissing = errors.New("key missing")

// RedisClient abstracts the Redis operations needed by HotBackend.
// This allows a real go-redis client or a mock to be used interchangeably.
type RedisClient interface {
	// Set stores value under key with an optional expiration (0 = none).
	Set(ctx context.Context, key, value string, expiration time.Duration) error
	// Get retrieves the value of a key, or errKeyMissing.
	Get(ctx context.Context, key string) (string, error)
	// Del deletes one or more keys.
	Del(ctx context.Context, keys ...string) error
	// Keys returns all keys matching the glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close shuts down the client.
	Close() error
}

// GoRedisClient adapts *redis.Client to the RedisClient interface.
type GoRedisClient struct {
	rdb *redis.Client
}

// NewGoRedisClient connects to Redis using a URL such as
// "redis://localhost:6379/0".
func NewGoRedisClient(url string) (*GoRedisClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &GoRedisClient{rdb: redis.NewClient(opts)}, nil
}

func (c *GoRedisClient) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	return c.rdb.Set(ctx, key, value, expiration).Err()
}

func (c *GoRedisClient) Get(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", errKeyMissing
	}
	return val, err
}

func (c *GoRedisClient) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *GoRedisClient) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	return out, iter.Err()
}

func (c *GoRedisClient) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *GoRedisClient) Close() error { return c.rdb.Close() }

// HotBackend stores records as JSON values in a low-latency key-value
// store. It acts as a cache tier: records may carry a TTL and a lost
// update on a raced id is accepted (the Warm tier stays authoritative).
type HotBackend struct {
	client RedisClient
	ttl    time.Duration // 0 = keys never expire
}

// NewHotBackend wraps a RedisClient. ttl of 0 disables expiry.
func NewHotBackend(client RedisClient, ttl time.Duration) *HotBackend {
	return &HotBackend{client: client, ttl: ttl}
}

func (h *HotBackend) Name() string      { return "hot" }
func (h *HotBackend) Tier() domain.Tier { return domain.TierHot }

func (h *HotBackend) Put(ctx context.Context, m *domain.Memory) error {
	data, err := json.Marshal(m)
	if err != nil {
		return domain.NewDomainError("HotBackend.Put", domain.ErrBackendWrite, err.Error())
	}
	if err := h.client.Set(ctx, hotKeyPrefix+m.ID, string(data), h.ttl); err != nil {
		return domain.NewDomainError("HotBackend.Put", domain.ErrTransport, err.Error())
	}
	return nil
}

func (h *HotBackend) Get(ctx context.Context, id string) (*domain.Memory, error) {
	val, err := h.client.Get(ctx, hotKeyPrefix+id)
	if errors.Is(err, errKeyMissing) {
		return nil, domain.NewDomainError("HotBackend.Get", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, domain.NewDomainError("HotBackend.Get", domain.ErrTransport, err.Error())
	}
	var m domain.Memory
	if err := json.Unmarshal([]byte(val), &m); err != nil {
		return nil, domain.NewDomainError("HotBackend.Get", domain.ErrBackendRead, err.Error())
	}
	return &m, nil
}

func (h *HotBackend) List(ctx context.Context, t domain.MemoryType) ([]string, error) {
	pattern := hotKeyPrefix + "*"
	if t != "" {
		pattern = hotKeyPrefix + string(t) + "-*"
	}
	keys, err := h.client.Keys(ctx, pattern)
	if err != nil {
		return nil, domain.NewDomainError("HotBackend.List", domain.ErrTransport, err.Error())
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k[len(hotKeyPrefix):])
	}
	return ids, nil
}

func (h *HotBackend) Delete(ctx context.Context, id string) error {
	if err := h.client.Del(ctx, hotKeyPrefix+id); err != nil {
		return domain.NewDomainError("HotBackend.Delete", domain.ErrTransport, err.Error())
	}
	return nil
}

func (h *HotBackend) Ping(ctx context.Context) error {
	if h.client == nil {
		return domain.NewDomainError("HotBackend.Ping", domain.ErrBackendUnavailable, "no client configured")
	}
	if err := h.client.Ping(ctx); err != nil {
		return domain.NewDomainError("HotBackend.Ping", domain.ErrBackendUnavailable, err.Error())
	}
	return nil
}
