package database

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const (
	// Cache key prefixes
	CacheKeyRetentionSettings = "netvault:cache:retention_settings"
	CacheKeyVendor            = "netvault:cache:vendor:"

	// Cache TTLs. Vendor command overrides are edited by the inventory
	// collaborator, so staleness is bounded by TTL only.
	CacheTTLSettings = 5 * time.Minute
	CacheTTLVendor   = 5 * time.Minute
)

var errCacheUnavailable = errors.New("cache unavailable")

// CacheGet retrieves a value from Redis cache and unmarshals it into dest
func CacheGet(key string, dest interface{}) error {
	if Redis == nil {
		return errCacheUnavailable
	}
	ctx := context.Background()
	data, err := Redis.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// CacheSet stores a value in Redis cache with TTL
func CacheSet(key string, value interface{}, ttl time.Duration) error {
	if Redis == nil {
		return errCacheUnavailable
	}
	ctx := context.Background()
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return Redis.Set(ctx, key, data, ttl).Err()
}

// CacheDelete removes keys from Redis cache
func CacheDelete(keys ...string) error {
	if Redis == nil || len(keys) == 0 {
		return nil
	}
	ctx := context.Background()
	return Redis.Del(ctx, keys...).Err()
}

// InvalidateRetentionSettingsCache clears the cached retention policy
func InvalidateRetentionSettingsCache() {
	CacheDelete(CacheKeyRetentionSettings)
}
