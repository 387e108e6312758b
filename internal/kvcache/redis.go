package kvcache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// DefaultKeyPrefix namespaces geocode entries in a shared Redis.
const DefaultKeyPrefix = "geocode:"

type RedisOption func(*Redis)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(p string) RedisOption {
	return func(r *Redis) { r.prefix = p }
}

// Redis stores provider responses as plain string values with a TTL.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis connects to addr and verifies the connection with PING.
func NewRedis(ctx context.Context, addr string, ttl time.Duration, opts ...RedisOption) (*Redis, error) {
	if addr == "" {
		return nil, eris.New("kvcache: redis address is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrapf(err, "kvcache: redis ping %s", addr)
	}

	r := &Redis{rdb: rdb, ttl: ttl, prefix: DefaultKeyPrefix}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	body, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, eris.Wrapf(err, "kvcache: redis GET %s", key)
	}
	return body, true, nil
}

// Set writes body with the configured TTL; zero means no expiry.
func (r *Redis) Set(ctx context.Context, key string, body []byte) error {
	if err := r.rdb.Set(ctx, r.prefix+key, body, r.ttl).Err(); err != nil {
		return eris.Wrapf(err, "kvcache: redis SET %s", key)
	}
	return nil
}

func (r *Redis) Close() error {
	return eris.Wrap(r.rdb.Close(), "kvcache: redis close")
}
