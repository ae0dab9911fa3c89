package memo

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cocoindex-io/cocoindex-go/internal/fingerprint"
	"github.com/cocoindex-io/cocoindex-go/internal/platform/envutil"
	"github.com/cocoindex-io/cocoindex-go/internal/platform/logger"
)

// Cache is the optional second tier a Store consults before falling back
// to the row's own entries. It is a process-local speedup only: the
// tracking record's MemoizationInfo remains the source of truth, since
// "all persistence happens at commit time" (spec §4.3).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// CacheKey builds the Redis key for a (source, memo-key, logic)
// lookup, matching the shape documented in SPEC_FULL.md §4.3.
func CacheKey(sourceID string, memoKeyFP, logicFP fingerprint.Fingerprint) string {
	return fmt.Sprintf("%s:%x:%x", sourceID, memoKeyFP.Bytes(), logicFP.Bytes())
}

type redisCache struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisCacheFromEnv builds a Cache from REDIS_ADDR/REDIS_DB, mirroring
// the teacher's internal/clients/redis bootstrap. Returns (nil, nil) when
// REDIS_ADDR is unset, so callers can treat the fast path as optional.
func NewRedisCacheFromEnv(ctx context.Context, log *logger.Logger) (Cache, error) {
	addr := envutil.String("REDIS_ADDR", "")
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   envutil.Int("REDIS_DB", 0),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("memo: redis ping: %w", err)
	}
	return &redisCache{client: client, log: log}, nil
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("memo: redis get: %w", err)
	}
	return b, true, nil
}

func (c *redisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("memo: redis set: %w", err)
	}
	return nil
}
