package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const menuCacheTTL = 5 * time.Minute

// menuCache keeps whole rendered menus in Redis under menu:<business_id>.
type menuCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewMenuCache(client *redis.Client, ttl time.Duration) *menuCache {
	return &menuCache{client: client, ttl: ttl}
}

func menuKey(businessID string) string {
	return fmt.Sprintf("menu:%s", businessID)
}

// Get returns (nil, nil) on a cache miss.
func (c *menuCache) Get(ctx context.Context, businessID string) ([]MenuItem, error) {
	data, err := c.client.Get(ctx, menuKey(businessID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	var items []MenuItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached menu: %w", err)
	}
	return items, nil
}

func (c *menuCache) Set(ctx context.Context, businessID string, items []MenuItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal menu: %w", err)
	}
	if err := c.client.Set(ctx, menuKey(businessID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

func (c *menuCache) Invalidate(ctx context.Context, businessID string) error {
	return c.client.Del(ctx, menuKey(businessID)).Err()
}

var _ MenuCache = (*menuCache)(nil)

// cachedStore wraps the Mongo store with cache-aside menu reads. Writes go
// to Mongo first, then invalidate; a stale entry lives at most one TTL.
type cachedStore struct {
	BusinessesStore
	cache  MenuCache
	logger *slog.Logger
}

func NewCachedStore(store BusinessesStore, cache MenuCache, logger *slog.Logger) *cachedStore {
	return &cachedStore{BusinessesStore: store, cache: cache, logger: logger}
}

func (s *cachedStore) GetMenu(ctx context.Context, businessID string) ([]MenuItem, error) {
	cached, err := s.cache.Get(ctx, businessID)
	if err != nil {
		s.logger.Warn("menu cache read failed, falling back to store",
			slog.String("id_empresa", businessID),
			slog.Any("error", err))
	} else if cached != nil {
		return cached, nil
	}

	items, err := s.BusinessesStore.GetMenu(ctx, businessID)
	if err != nil {
		return nil, err
	}

	// Best-effort population; the read already succeeded.
	if err := s.cache.Set(ctx, businessID, items); err != nil {
		s.logger.Warn("failed to populate menu cache",
			slog.String("id_empresa", businessID),
			slog.Any("error", err))
	}
	return items, nil
}

func (s *cachedStore) ReplaceMenu(ctx context.Context, businessID string, items []MenuItem) error {
	if err := s.BusinessesStore.ReplaceMenu(ctx, businessID, items); err != nil {
		return err
	}
	s.invalidate(ctx, businessID)
	return nil
}

func (s *cachedStore) AddMenuItem(ctx context.Context, businessID string, item MenuItem) error {
	if err := s.BusinessesStore.AddMenuItem(ctx, businessID, item); err != nil {
		return err
	}
	s.invalidate(ctx, businessID)
	return nil
}

func (s *cachedStore) UpdateMenuItem(ctx context.Context, businessID, itemUUID string, update MenuItemUpdate) error {
	if err := s.BusinessesStore.UpdateMenuItem(ctx, businessID, itemUUID, update); err != nil {
		return err
	}
	s.invalidate(ctx, businessID)
	return nil
}

func (s *cachedStore) DeleteMenuItem(ctx context.Context, businessID, itemUUID string) error {
	if err := s.BusinessesStore.DeleteMenuItem(ctx, businessID, itemUUID); err != nil {
		return err
	}
	s.invalidate(ctx, businessID)
	return nil
}

func (s *cachedStore) invalidate(ctx context.Context, businessID string) {
	if err := s.cache.Invalidate(ctx, businessID); err != nil {
		s.logger.Warn("failed to invalidate menu cache",
			slog.String("id_empresa", businessID),
			slog.Any("error", err))
	}
}

var _ BusinessesStore = (*cachedStore)(nil)
