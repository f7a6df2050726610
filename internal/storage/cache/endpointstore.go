// Package cache adds read-aside caching in front of an EndpointStore.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// ErrCacheMiss is returned by CacheClient.Get when the key does not exist.
var ErrCacheMiss = errors.New("cache miss")

// CacheClient defines the subset of cache commands we need.
type CacheClient interface {
	// Get decodes the value into dest, or returns ErrCacheMiss.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedEndpointStore is a Decorator that adds Read-Aside caching to any EndpointStore.
type CachedEndpointStore struct {
	realStore dispatch.EndpointStore
	cache     CacheClient
	ttl       time.Duration
	logger    *slog.Logger
}

func NewCachedEndpointStore(realStore dispatch.EndpointStore, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedEndpointStore {
	return &CachedEndpointStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "CachedEndpointStore"),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedEndpointStore) Fetch(ctx context.Context, user urn.URN) ([]dispatch.Endpoint, error) {
	key := s.cacheKey(user)

	var cached []dispatch.Endpoint
	err := s.cache.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn("Cache read failed, falling back to store", "user", user.String(), "err", err)
	}

	fresh, err := s.realStore.Fetch(ctx, user)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization, not a transaction: if the cache is down we serve from the store.
	if err := s.cache.Set(ctx, key, fresh, s.ttl); err != nil {
		s.logger.Warn("Cache write failed", "user", user.String(), "err", err)
	}
	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedEndpointStore) Register(ctx context.Context, user urn.URN, endpoint dispatch.Endpoint) error {
	if err := s.realStore.Register(ctx, user, endpoint); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

// Unregister must clear the cache even though the store write already succeeded, so
// dead endpoints stop receiving immediately.
func (s *CachedEndpointStore) Unregister(ctx context.Context, user urn.URN, endpoint dispatch.Endpoint) error {
	if err := s.realStore.Unregister(ctx, user, endpoint); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedEndpointStore) invalidate(ctx context.Context, user urn.URN) error {
	if err := s.cache.Del(ctx, s.cacheKey(user)); err != nil {
		return fmt.Errorf("failed to invalidate cached endpoints: %w", err)
	}
	return nil
}

func (s *CachedEndpointStore) cacheKey(user urn.URN) string {
	return fmt.Sprintf("pushrouter:endpoints:%s", user.String())
}
