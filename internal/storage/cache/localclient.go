package cache

import (
	"context"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// LocalClient is an in-process CacheClient for single-instance deployments without
// Redis. Values are stored JSON-encoded so reads behave exactly like RedisClient.
type LocalClient struct {
	c *gocache.Cache
}

func NewLocalClient(defaultTTL, cleanupInterval time.Duration) *LocalClient {
	return &LocalClient{c: gocache.New(defaultTTL, cleanupInterval)}
}

func (l *LocalClient) Get(_ context.Context, key string, dest interface{}) error {
	raw, found := l.c.Get(key)
	if !found {
		return ErrCacheMiss
	}
	return json.Unmarshal(raw.([]byte), dest)
}

func (l *LocalClient) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	l.c.Set(key, b, ttl)
	return nil
}

func (l *LocalClient) Del(_ context.Context, key string) error {
	l.c.Delete(key)
	return nil
}

func (l *LocalClient) Close() error {
	l.c.Flush()
	return nil
}
