package blobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedBackend wraps a Backend with a Redis-backed existence cache, so that
// repeated runs over a largely-unchanged file tree skip redundant Exists
// round trips to the underlying store. It is optional: most deployments use
// a Backend directly.
type CachedBackend struct {
	Backend
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCachedBackend wraps backend with an existence cache on client, keyed
// under keyPrefix so multiple blobvault destinations can share one Redis
// instance without colliding. A ttl of zero means cache entries never
// expire; content-addressed names never change meaning once cached.
func NewCachedBackend(backend Backend, client *redis.Client, keyPrefix string, ttl time.Duration) *CachedBackend {
	return &CachedBackend{Backend: backend, redis: client, prefix: keyPrefix, ttl: ttl}
}

func (c *CachedBackend) cacheKey(remotePath string) string {
	return c.prefix + ":exists:" + remotePath
}

// Exists consults the cache first; a cache hit of "present" is trusted
// without re-checking the backend, since content-addressed blobs are
// write-once. A cache miss or "absent" entry falls through to the backend,
// and a positive result is written back to the cache.
func (c *CachedBackend) Exists(ctx context.Context, remotePath string) (bool, error) {
	key := c.cacheKey(remotePath)
	cached, err := c.redis.Get(ctx, key).Result()
	if err == nil && cached == "1" {
		return true, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("blobstore: cache: get %s: %w", key, err)
	}

	exists, err := c.Backend.Exists(ctx, remotePath)
	if err != nil {
		return false, err
	}
	if exists {
		if err := c.redis.Set(ctx, key, "1", c.ttl).Err(); err != nil {
			return true, fmt.Errorf("blobstore: cache: set %s: %w", key, err)
		}
	}
	return exists, nil
}

// Upload delegates to the wrapped backend and marks remotePath present in
// the cache on success, so a subsequent Exists in the same run or a later
// run is a cache hit.
func (c *CachedBackend) Upload(ctx context.Context, localPath, remotePath string) error {
	if err := c.Backend.Upload(ctx, localPath, remotePath); err != nil {
		return err
	}
	key := c.cacheKey(remotePath)
	if err := c.redis.Set(ctx, key, "1", c.ttl).Err(); err != nil {
		return fmt.Errorf("blobstore: cache: set %s after upload: %w", key, err)
	}
	return nil
}

// Remove delegates to the wrapped backend and evicts remotePath from the
// cache regardless of whether the backend call succeeded, since a failed
// remove leaves the existence state ambiguous and a stale positive cache
// entry is strictly worse than a cache miss.
func (c *CachedBackend) Remove(ctx context.Context, remotePath string) error {
	err := c.Backend.Remove(ctx, remotePath)
	_ = c.redis.Del(ctx, c.cacheKey(remotePath)).Err()
	return err
}
