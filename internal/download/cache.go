// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package download

import (
	"context"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
)

// DefaultItemCacheTTL keeps one poll cycle from hitting a client twice.
const DefaultItemCacheTTL = 5 * time.Second

// ItemCache holds the last GetItems snapshot per client name.
type ItemCache struct {
	cache *ttlcache.Cache[string, []Item]
	ttl   time.Duration
}

// NewItemCache creates a cache. A zero or negative ttl disables caching.
func NewItemCache(ttl time.Duration) *ItemCache {
	c := &ItemCache{ttl: ttl}
	if ttl > 0 {
		c.cache = ttlcache.New(ttlcache.Options[string, []Item]{}.SetDefaultTTL(ttl))
	}
	return c
}

// GetItems returns the cached snapshot for client or polls it.
func (c *ItemCache) GetItems(ctx context.Context, client Client) ([]Item, error) {
	if c.cache != nil {
		if items, ok := c.cache.Get(client.Name()); ok {
			return cloneItems(items), nil
		}
	}

	items, err := client.GetItems(ctx)
	if err != nil {
		return nil, WrapTransport(client.Name(), "get items", err)
	}

	if c.cache != nil {
		c.cache.Set(client.Name(), cloneItems(items), ttlcache.DefaultTTL)
	}
	return items, nil
}

// Invalidate drops the snapshot of one client.
func (c *ItemCache) Invalidate(name string) {
	if c.cache != nil {
		c.cache.Delete(name)
	}
}

func (c *ItemCache) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}

func cloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	return append([]Item(nil), items...)
}
