package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedToken is an access token plus a generation counter that increases on
// every refresh, so readers can tell a fresh token from a stale one.
type CachedToken struct {
	AccessToken string    `json:"access_token"`
	Expiry      time.Time `json:"expiry"`
	Generation  uint64    `json:"generation"`
}

type TokenCache interface {
	Get(ctx context.Context, userID int64) (*CachedToken, error)
	Set(ctx context.Context, userID int64, tok CachedToken) error
	Delete(ctx context.Context, userID int64) error
}

// MemoryCache is a process-local TokenCache.
type MemoryCache struct {
	mu     sync.RWMutex
	tokens map[int64]CachedToken
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{tokens: make(map[int64]CachedToken)}
}

func (c *MemoryCache) Get(_ context.Context, userID int64) (*CachedToken, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tok, ok := c.tokens[userID]
	if !ok {
		return nil, nil
	}
	return &tok, nil
}

func (c *MemoryCache) Set(_ context.Context, userID int64, tok CachedToken) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[userID] = tok
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, userID)
	return nil
}

// RedisCache shares tokens between replicas. Entries expire with the token.
type RedisCache struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "calendar:token:", now: time.Now}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (c *RedisCache) key(userID int64) string {
	return c.prefix + strconv.FormatInt(userID, 10)
}

func (c *RedisCache) Get(ctx context.Context, userID int64) (*CachedToken, error) {
	raw, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get token: %w", err)
	}
	var tok CachedToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decode cached token: %w", err)
	}
	return &tok, nil
}

func (c *RedisCache) Set(ctx context.Context, userID int64, tok CachedToken) error {
	ttl := tok.Expiry.Sub(c.now())
	if ttl <= 0 {
		return c.Delete(ctx, userID)
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode cached token: %w", err)
	}
	if err := c.client.Set(ctx, c.key(userID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set token: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, userID int64) error {
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete token: %w", err)
	}
	return nil
}
