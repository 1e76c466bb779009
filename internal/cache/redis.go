package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"risk_engine/internal/core"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "risk:assessment:"

// RedisCache implements core.IAssessmentCache on Redis with native key expiry
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger core.ILogger
	now    func() time.Time
}

// RedisOptions configures the Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisCache creates a RedisCache. The connection is established lazily.
func NewRedisCache(opts RedisOptions, logger core.ILogger) *RedisCache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger.WithField("component", "redis_cache"),
		now:    time.Now,
	}
}

// Key is the redis key holding userID's assessment
func Key(userID string) string {
	return keyPrefix + userID
}

func (c *RedisCache) Get(ctx context.Context, userID string) (*core.CachedAssessment, bool, error) {
	raw, err := c.client.Get(ctx, Key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var entry core.CachedAssessment
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("Discarding undecodable cache entry", "user_id", userID, "error", err)
		return nil, false, nil
	}
	if !c.now().Before(entry.ExpiresAt) {
		return nil, false, nil
	}
	return &entry, true, nil
}

func (c *RedisCache) Set(ctx context.Context, userID string, assessment core.RiskAssessment) (*core.CachedAssessment, error) {
	now := c.now()
	entry := core.CachedAssessment{
		Assessment: assessment,
		ComputedAt: now,
		ExpiresAt:  now.Add(c.ttl),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal assessment: %w", err)
	}
	if err := c.client.Set(ctx, Key(userID), raw, c.ttl).Err(); err != nil {
		return nil, fmt.Errorf("redis set: %w", err)
	}
	return &entry, nil
}

func (c *RedisCache) Delete(ctx context.Context, userID string) (bool, error) {
	n, err := c.client.Del(ctx, Key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis del: %w", err)
	}
	return n > 0, nil
}

// CheckHealth pings redis
func (c *RedisCache) CheckHealth(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
