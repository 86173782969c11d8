package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Resolver maps an access token to its user.
type Resolver interface {
	User(ctx context.Context, accessToken string) (*User, error)
}

// Cache stores opaque values with a TTL. Get reports ok=false on a miss.
type Cache interface {
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// RedisCache adapts a go-redis client to Cache.
type RedisCache struct {
	client redis.Cmdable
}

// NewRedisCache wraps client.
func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client}
}

// Get returns the value stored under key; ok is false on a miss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set stores val under key for ttl.
func (c *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, val, ttl).Err()
}

// Del removes key.
func (c *RedisCache) Del(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// CachedResolver caches successful lookups of next. Cache failures fall
// through to next; rejected tokens are never cached.
type CachedResolver struct {
	next  Resolver
	cache Cache
	ttl   time.Duration
}

// NewCachedResolver returns a resolver caching next for ttl.
func NewCachedResolver(next Resolver, cache Cache, ttl time.Duration) *CachedResolver {
	return &CachedResolver{next: next, cache: cache, ttl: ttl}
}

// User serves accessToken from the cache, falling back to the wrapped
// resolver and caching its answer. Cache failures are logged, not returned.
func (r *CachedResolver) User(ctx context.Context, accessToken string) (*User, error) {
	key := cacheKey(accessToken)
	lg := zctx.From(ctx)

	data, ok, err := r.cache.Get(ctx, key)
	switch {
	case err != nil:
		lg.Warn("Auth cache get", zap.Error(err))
	case ok:
		u, err := unmarshalUser(data)
		if err == nil {
			return u, nil
		}
		lg.Warn("Auth cache entry corrupt", zap.Error(err))
	}

	u, err := r.next.User(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, key, marshalUser(u), r.ttl); err != nil {
		lg.Warn("Auth cache set", zap.Error(err))
	}
	return u, nil
}

// Forget drops the cached user for accessToken, e.g. after sign-out.
func (r *CachedResolver) Forget(ctx context.Context, accessToken string) error {
	return r.cache.Del(ctx, cacheKey(accessToken))
}

// cacheKey never exposes the raw token to the cache.
func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "auth:user:" + hex.EncodeToString(sum[:])
}

func marshalUser(u *User) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(u.ID) })
		e.Field("email", func(e *jx.Encoder) { e.Str(u.Email) })
		e.Field("role", func(e *jx.Encoder) { e.Str(u.Role) })
	})
	return e.Bytes()
}

func unmarshalUser(data []byte) (*User, error) {
	return decodeUser(jx.DecodeBytes(data))
}
