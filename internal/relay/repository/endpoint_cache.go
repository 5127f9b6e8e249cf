package repository

import (
	"context"
	"time"

	"runbox/internal/remote/discovery"
	"runbox/pkg/utils/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const endpointCacheKey = "runbox:endpoint"

// RedisEndpointCache shares the resolved execution endpoint between relay
// instances so only one of them pays for a scrape per expiry window.
type RedisEndpointCache struct {
	client *redis.Client
}

// NewRedisEndpointCache wraps an existing Redis client.
func NewRedisEndpointCache(client *redis.Client) *RedisEndpointCache {
	return &RedisEndpointCache{client: client}
}

// Load returns the shared endpoint and its remaining lifetime. A missing
// key or a Redis failure reads as a miss and the caller scrapes instead.
func (r *RedisEndpointCache) Load(ctx context.Context) (string, time.Duration, bool) {
	pipe := r.client.Pipeline()
	getCmd := pipe.Get(ctx, endpointCacheKey)
	ttlCmd := pipe.TTL(ctx, endpointCacheKey)
	if _, err := pipe.Exec(ctx); err != nil {
		if err != redis.Nil {
			logger.Warn(ctx, "endpoint cache load failed", zap.Error(err))
		}
		return "", 0, false
	}

	token := getCmd.Val()
	ttl := ttlCmd.Val()
	if token == "" || ttl <= 0 {
		return "", 0, false
	}
	return token, ttl, true
}

// Save publishes a freshly scraped endpoint for the other instances.
// Failures are logged and swallowed; the local cache still has the value.
func (r *RedisEndpointCache) Save(ctx context.Context, token string, ttl time.Duration) {
	if err := r.client.Set(ctx, endpointCacheKey, token, ttl).Err(); err != nil {
		logger.Warn(ctx, "endpoint cache save failed", zap.Error(err))
	}
}

var _ discovery.Store = (*RedisEndpointCache)(nil)
