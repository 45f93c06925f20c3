package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-article-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-article-push-service/pkg/notification"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns ErrMiss when the key is absent.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedProfileStore is a Decorator that adds Read-Aside caching to the full
// profile listing of any ProfileStore.
type CachedProfileStore struct {
	realStore dispatch.ProfileStore
	cache     CacheClient
	key       string
	ttl       time.Duration
	logger    *slog.Logger
}

// NewCachedProfileStore creates the decorator. tokenField scopes the cache
// key so providers never share an entry.
func NewCachedProfileStore(realStore dispatch.ProfileStore, cache CacheClient, tokenField string, ttl time.Duration, logger *slog.Logger) *CachedProfileStore {
	return &CachedProfileStore{
		realStore: realStore,
		cache:     cache,
		key:       "notify:profiles:" + tokenField,
		ttl:       ttl,
		logger:    logger.With("component", "CachedProfileStore"),
	}
}

// --- READ PATH (Read-Aside) ---

// ListProfiles serves from the cache when it can. Cache failures fall through
// to the real store and are never returned.
func (s *CachedProfileStore) ListProfiles(ctx context.Context) ([]notification.Profile, error) {
	var cached []notification.Profile
	err := s.cache.Get(ctx, s.key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrMiss) {
		s.logger.Warn("Profile cache read failed, using store", "err", err)
	}

	fresh, err := s.realStore.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, s.key, fresh, s.ttl); err != nil {
		s.logger.Warn("Profile cache fill failed", "err", err)
	}
	return fresh, nil
}

// GetProfiles is a targeted lookup and always reads the real store.
func (s *CachedProfileStore) GetProfiles(ctx context.Context, userIDs []string) ([]notification.Profile, error) {
	return s.realStore.GetProfiles(ctx, userIDs)
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedProfileStore) RegisterDevice(ctx context.Context, userID string, device notification.Device) error {
	if err := s.realStore.RegisterDevice(ctx, userID, device); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

// UnregisterDevice must clear the cache so a user who opted out is dropped
// from the very next dispatch.
func (s *CachedProfileStore) UnregisterDevice(ctx context.Context, userID string) error {
	if err := s.realStore.UnregisterDevice(ctx, userID); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

func (s *CachedProfileStore) invalidate(ctx context.Context) error {
	if err := s.cache.Del(ctx, s.key); err != nil {
		return &notification.StoreError{Op: "invalidate profile cache", Err: err}
	}
	return nil
}
