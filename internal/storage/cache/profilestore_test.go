package cache_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-article-push-service/internal/storage/cache"
	"github.com/tinywideclouds/go-article-push-service/pkg/notification"
)

// --- Mocks ---
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockCache) Del(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type MockRealStore struct {
	mock.Mock
}

func (m *MockRealStore) ListProfiles(ctx context.Context) ([]notification.Profile, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]notification.Profile), args.Error(1)
}
func (m *MockRealStore) GetProfiles(ctx context.Context, ids []string) ([]notification.Profile, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]notification.Profile), args.Error(1)
}
func (m *MockRealStore) RegisterDevice(ctx context.Context, userID string, d notification.Device) error {
	return m.Called(ctx, userID, d).Error(0)
}
func (m *MockRealStore) UnregisterDevice(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const cacheKey = "notify:profiles:pushToken"

func TestCachedProfileStore_ReadAside(t *testing.T) {
	ctx := context.Background()
	profiles := []notification.Profile{{UserID: "u1", Token: "ExponentPushToken[a]"}}

	t.Run("Cache hit skips the store", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedProfileStore(mockDB, mockCache, "pushToken", time.Minute, newTestLogger())

		mockCache.On("Get", ctx, cacheKey, mock.Anything).Run(func(args mock.Arguments) {
			dest := args.Get(2).(*[]notification.Profile)
			*dest = profiles
		}).Return(nil)

		got, err := store.ListProfiles(ctx)

		require.NoError(t, err)
		assert.Equal(t, profiles, got)
		mockDB.AssertNotCalled(t, "ListProfiles", mock.Anything)
	})

	t.Run("Cache miss reads the store and fills the cache", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedProfileStore(mockDB, mockCache, "pushToken", time.Minute, newTestLogger())

		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(cache.ErrMiss)
		mockDB.On("ListProfiles", ctx).Return(profiles, nil)
		mockCache.On("Set", ctx, cacheKey, profiles, time.Minute).Return(nil)

		got, err := store.ListProfiles(ctx)

		require.NoError(t, err)
		assert.Equal(t, profiles, got)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Broken cache never fails a read", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedProfileStore(mockDB, mockCache, "pushToken", time.Minute, newTestLogger())

		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(errors.New("redis: connection refused"))
		mockDB.On("ListProfiles", ctx).Return(profiles, nil)
		mockCache.On("Set", ctx, cacheKey, profiles, time.Minute).Return(errors.New("redis: connection refused"))

		got, err := store.ListProfiles(ctx)

		require.NoError(t, err)
		assert.Equal(t, profiles, got)
	})

	t.Run("Store error is passed through and not cached", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedProfileStore(mockDB, mockCache, "pushToken", time.Minute, newTestLogger())

		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(cache.ErrMiss)
		mockDB.On("ListProfiles", ctx).Return(nil, errors.New("firestore unavailable"))

		_, err := store.ListProfiles(ctx)

		require.Error(t, err)
		mockCache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCachedProfileStore_ImmediateInvalidation(t *testing.T) {
	ctx := context.Background()

	t.Run("Register invalidates cache", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedProfileStore(mockDB, mockCache, "pushToken", time.Hour, newTestLogger())
		device := notification.Device{Token: "ExponentPushToken[new]"}

		mockDB.On("RegisterDevice", ctx, "u1", device).Return(nil)
		mockCache.On("Del", ctx, cacheKey).Return(nil)

		require.NoError(t, store.RegisterDevice(ctx, "u1", device))
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Unregister invalidates cache immediately", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedProfileStore(mockDB, mockCache, "pushToken", time.Hour, newTestLogger())

		mockDB.On("UnregisterDevice", ctx, "annoyed-user").Return(nil)
		mockCache.On("Del", ctx, cacheKey).Return(nil)

		require.NoError(t, store.UnregisterDevice(ctx, "annoyed-user"))
		mockCache.AssertExpectations(t)
	})

	t.Run("Failed write leaves the cache alone", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedProfileStore(mockDB, mockCache, "pushToken", time.Hour, newTestLogger())

		mockDB.On("UnregisterDevice", ctx, "u1").Return(errors.New("permission denied"))

		require.Error(t, store.UnregisterDevice(ctx, "u1"))
		mockCache.AssertNotCalled(t, "Del", mock.Anything, mock.Anything)
	})
}
