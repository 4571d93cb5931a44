package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"policy-lifecycle-service/internal/apperrors"
	"policy-lifecycle-service/internal/models"
	utils "policy-lifecycle-service/internal/utils"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

// SnapshotCache stores serialized policy snapshots by key.
type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type RedisSnapshotCache struct {
	client *redis.Client
}

func NewRedisSnapshotCache(client *redis.Client) *RedisSnapshotCache {
	return &RedisSnapshotCache{client: client}
}

func (c *RedisSnapshotCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache key %s: %w", key, err)
	}
	return data, nil
}

func (c *RedisSnapshotCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache key %s: %w", key, err)
	}
	return nil
}

func (c *RedisSnapshotCache) Delete(ctx context.Context, keys ...string) error {
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	return nil
}

// CachedPolicyStore serves GetByID from a snapshot cache and invalidates the
// snapshot on every write. Cache failures degrade to the backing store.
// A miss only fills the cache when no write went through this store while the
// backing read was in flight, so an invalidation is never undone by a slower
// reader.
type CachedPolicyStore struct {
	PolicyStore
	cache SnapshotCache
	ttl   time.Duration

	// fills hold fillMu shared from the epoch check through the cache write;
	// writes bump epoch under the exclusive lock before deleting.
	fillMu sync.RWMutex
	epoch  atomic.Uint64
}

func NewCachedPolicyStore(store PolicyStore, cache SnapshotCache, ttl time.Duration) *CachedPolicyStore {
	return &CachedPolicyStore{PolicyStore: store, cache: cache, ttl: ttl}
}

func policyCacheKey(id string) string {
	return "policy:" + id
}

func (s *CachedPolicyStore) GetByID(ctx context.Context, id string) (*models.Policy, error) {
	key := policyCacheKey(id)

	data, err := s.cache.Get(ctx, key)
	if err == nil {
		var policy models.Policy
		if err := utils.DeserializeModel(data, &policy); err == nil {
			return &policy, nil
		}
		slog.Warn("discarding unreadable policy snapshot", "policy_id", id, "error", err)
	} else if !errors.Is(err, ErrCacheMiss) {
		slog.Warn("policy cache read failed", "policy_id", id, "error", err)
	}

	epoch := s.epoch.Load()
	policy, err := s.PolicyStore.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, policy, epoch)
	return policy, nil
}

func (s *CachedPolicyStore) fill(ctx context.Context, policy *models.Policy, epoch uint64) {
	data, err := utils.SerializeModel(policy)
	if err != nil {
		slog.Warn("failed to serialize policy snapshot", "policy_id", policy.ID, "error", err)
		return
	}

	s.fillMu.RLock()
	defer s.fillMu.RUnlock()
	if s.epoch.Load() != epoch {
		slog.Debug("skipping policy snapshot read before a concurrent write", "policy_id", policy.ID, "version", policy.Version)
		return
	}
	if err := s.cache.Set(ctx, policyCacheKey(policy.ID), data, s.ttl); err != nil {
		slog.Warn("policy cache write failed", "policy_id", policy.ID, "error", err)
	}
}

func (s *CachedPolicyStore) Create(ctx context.Context, policy *models.Policy) error {
	if err := s.PolicyStore.Create(ctx, policy); err != nil {
		return err
	}
	s.invalidate(ctx, policy.ID)
	return nil
}

func (s *CachedPolicyStore) Save(ctx context.Context, policy *models.Policy) error {
	err := s.PolicyStore.Save(ctx, policy)
	// a conflict means the snapshot we handed out was stale
	if err == nil || apperrors.CodeOf(err) == apperrors.CodeVersionConflict {
		s.invalidate(ctx, policy.ID)
	}
	return err
}

func (s *CachedPolicyStore) invalidate(ctx context.Context, id string) {
	s.fillMu.Lock()
	s.epoch.Add(1)
	s.fillMu.Unlock()

	if err := s.cache.Delete(ctx, policyCacheKey(id)); err != nil {
		slog.Warn("policy cache invalidation failed", "policy_id", id, "error", err)
	}
}
