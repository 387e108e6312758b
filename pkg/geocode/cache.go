package geocode

import (
	"context"
	"crypto/sha1" //nolint:gosec // fingerprint only, must match keys written by the CRM
	"encoding/hex"

	"go.uber.org/zap"
)

// CacheKeyLen is the length of a cache fingerprint in hex characters.
const CacheKeyLen = 12

// Cache stores raw provider responses keyed by request fingerprint.
type Cache interface {
	// Get returns the stored body and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, body []byte) error
}

// NopCache never stores anything.
type NopCache struct{}

// Get implements Cache.
func (NopCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

// Set implements Cache.
func (NopCache) Set(context.Context, string, []byte) error { return nil }

// CacheKey fingerprints a full request URL.
func CacheKey(fullURL string) string {
	return shortSHA1(fullURL)
}

func shortSHA1(s string) string {
	h := sha1.Sum([]byte(s)) //nolint:gosec
	return hex.EncodeToString(h[:])[:CacheKeyLen]
}

// checkCache returns a cached body. Cache failures count as misses.
func (c *Client) checkCache(ctx context.Context, key string) ([]byte, bool) {
	body, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		zap.L().Warn("nominatim: cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if ok {
		zap.L().Debug("nominatim: cache hit", zap.String("key", key))
	}
	return body, ok
}

// storeCache saves a decodable response. Failures are logged, not returned.
func (c *Client) storeCache(ctx context.Context, key string, body []byte) {
	if err := c.cache.Set(ctx, key, body); err != nil {
		zap.L().Warn("nominatim: cache write failed", zap.String("key", key), zap.Error(err))
	}
}
