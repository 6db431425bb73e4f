package main

import (
	"sync"
	"time"
)

// pageCache provides thread-safe caching for fetched page content, keyed
// by URL with a per-entry TTL.
type pageCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]pageEntry
}

type pageEntry struct {
	content  PageContent
	storedAt time.Time
}

// newPageCache creates a cache with the specified TTL.
func newPageCache(ttl time.Duration) *pageCache {
	return &pageCache{
		ttl:     ttl,
		entries: make(map[string]pageEntry),
	}
}

// Get retrieves cached content for a URL if present and not expired.
func (c *pageCache) Get(url string) (PageContent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[url]
	if !ok {
		return PageContent{}, false
	}
	if time.Since(entry.storedAt) > c.ttl {
		return PageContent{}, false
	}

	return entry.content, true
}

// Set stores content for a URL, replacing any previous entry.
func (c *pageCache) Set(url string, content PageContent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[url] = pageEntry{content: content, storedAt: time.Now()}
}

// Clear removes all entries from the cache.
func (c *pageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]pageEntry)
}

// Len returns the number of entries, expired ones included.
func (c *pageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}
