// Package profiles caches actor profile lookups for the life of a session.
package profiles

import (
	"context"
	"fmt"
	"sync"

	"github.com/tagstream/tagstream/internal/bluesky"
)

// Client is the profile lookup the cache depends on.
type Client interface {
	GetProfile(ctx context.Context, actor string) (*bluesky.ProfileView, error)
}

// Cache lazily fetches and stores profile views keyed by DID. Entries are
// never invalidated or evicted; session lifetime is short and cardinality
// is bounded by the distinct authors seen. Concurrent Ensure calls for the
// same DID may both fetch; the second write overwrites with identical data.
type Cache struct {
	client Client

	mu      sync.RWMutex
	entries map[string]*bluesky.ProfileView
}

// NewCache creates an empty cache backed by the given client.
func NewCache(client Client) *Cache {
	return &Cache{
		client:  client,
		entries: make(map[string]*bluesky.ProfileView),
	}
}

// Ensure fetches and stores the profile for did unless it is already
// cached. A failed lookup leaves the DID absent, so a later Ensure will
// try again; callers must tolerate a missing entry.
func (c *Cache) Ensure(ctx context.Context, did string) error {
	c.mu.RLock()
	_, ok := c.entries[did]
	c.mu.RUnlock()
	if ok {
		return nil
	}

	view, err := c.client.GetProfile(ctx, did)
	if err != nil {
		return fmt.Errorf("ensure profile %s: %w", did, err)
	}

	c.mu.Lock()
	c.entries[did] = view
	c.mu.Unlock()
	return nil
}

// Put stores an already-fetched profile, e.g. the author view carried on a
// resolved post.
func (c *Cache) Put(view *bluesky.ProfileView) {
	if view == nil || view.DID == "" {
		return
	}
	c.mu.Lock()
	c.entries[view.DID] = view
	c.mu.Unlock()
}

// Get returns the cached profile for did, if present.
func (c *Cache) Get(did string) (*bluesky.ProfileView, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	view, ok := c.entries[did]
	return view, ok
}

// Len returns the number of cached profiles.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
