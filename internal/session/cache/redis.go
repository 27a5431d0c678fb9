// Package cache holds the Redis read-through cache of a user's active session list.
// Entries are advisory: a miss or any Redis error falls through to the session store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"authgate/internal/platform/logger"
	"authgate/internal/session/domain"
)

const (
	defaultPrefix = "authgate:sessions:"
	defaultTTL    = 30 * time.Second
	opTimeout     = 250 * time.Millisecond

	// versionTTL keeps a user's invalidation counter well past any entry written against it.
	versionTTL = 24 * time.Hour
)

var errStaleVersion = errors.New("cache: list invalidated since read")

// Connect opens a client for addr and pings it with a 5 second timeout.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: connect redis %s: %w", addr, err)
	}
	return client, nil
}

// RedisListCache stores each user's ListActive result as one JSON value under prefix+userID.
type RedisListCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *zap.Logger
}

// NewRedisListCache returns a cache over client. Empty prefix and non-positive ttl select defaults.
func NewRedisListCache(client *redis.Client, prefix string, ttl time.Duration, l *zap.Logger) *RedisListCache {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisListCache{client: client, prefix: prefix, ttl: ttl, log: logger.WithComponent(l, "session_cache")}
}

func (c *RedisListCache) key(userID string) string {
	return c.prefix + userID
}

func (c *RedisListCache) versionKey(userID string) string {
	return c.prefix + userID + ":version"
}

// Version returns the user's invalidation counter, 0 if none was recorded.
func (c *RedisListCache) Version(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	v, err := c.client.Get(ctx, c.versionKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// Get returns the cached list. Any failure, including a corrupt value, is reported as a miss.
func (c *RedisListCache) Get(ctx context.Context, userID string) ([]*domain.Session, bool) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	b, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("session cache get failed", zap.String("user_id", userID), zap.Error(err))
		}
		return nil, false
	}
	var sessions []*domain.Session
	if err := json.Unmarshal(b, &sessions); err != nil {
		c.log.Warn("session cache entry corrupt", zap.String("user_id", userID), zap.Error(err))
		_ = c.client.Del(ctx, c.key(userID)).Err()
		return nil, false
	}
	return sessions, true
}

// Put caches sessions without their token hashes. The write is dropped when the user's entry was
// invalidated after version was read, so a list read before a revoke is never cached after it.
func (c *RedisListCache) Put(ctx context.Context, userID string, version int64, sessions []*domain.Session) {
	stripped := make([]domain.Session, len(sessions))
	for i, s := range sessions {
		stripped[i] = *s
		stripped[i].AccessTokenHash = ""
		stripped[i].RefreshTokenHash = ""
	}
	b, err := json.Marshal(stripped)
	if err != nil {
		c.log.Warn("session cache encode failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	vk := c.versionKey(userID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, vk).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != version {
			return errStaleVersion
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.key(userID), b, c.ttl)
			return nil
		})
		return err
	}, vk)
	switch {
	case err == nil, errors.Is(err, errStaleVersion), errors.Is(err, redis.TxFailedErr):
	default:
		c.log.Warn("session cache set failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// Invalidate bumps the user's version and drops the entry. A failed delete is bounded by the entry TTL.
func (c *RedisListCache) Invalidate(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	vk := c.versionKey(userID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, vk)
		pipe.Expire(ctx, vk, versionTTL)
		pipe.Del(ctx, c.key(userID))
		return nil
	})
	if err != nil {
		c.log.Warn("session cache invalidate failed", zap.String("user_id", userID), zap.Error(err))
	}
}
