// Package cache implements the read-path page cache: a bounded LRU of
// recently read disk pages, keyed by the run file and byte range they came
// from. It has no effect on correctness, only on how often a Layer's point
// lookup has to call through to the filesystem.
package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// pageKey identifies one page-sized read against a named run file.
type pageKey struct {
	name   string
	offset int64
	length int64
}

// PageCache caches raw page bytes read off a run file.
type PageCache struct {
	cache *lru.Cache[pageKey, []byte]
}

// New returns a PageCache holding up to capacity pages. A non-positive
// capacity is raised to 1, so the cache still holds one page.
func New(capacity int) *PageCache {
	if capacity < 1 {
		capacity = 1
	}
	c, err := lru.New[pageKey, []byte](capacity)
	if err != nil {
		// lru.New only fails for a non-positive size, which New already
		// guards against.
		panic(fmt.Errorf("cache: failed to construct page cache: %w", err))
	}
	return &PageCache{cache: c}
}

// Get returns the cached bytes for the page (name, offset, length), if
// present.
func (c *PageCache) Get(name string, offset, length int64) ([]byte, bool) {
	return c.cache.Get(pageKey{name, offset, length})
}

// Put caches data as the contents of page (name, offset, length).
func (c *PageCache) Put(name string, offset, length int64, data []byte) {
	c.cache.Add(pageKey{name, offset, length}, data)
}

// InvalidateFile drops every cached page belonging to name. A Layer calls
// this when a run file is removed, so a stale page can never be served
// after its file is gone.
func (c *PageCache) InvalidateFile(name string) {
	for _, k := range c.cache.Keys() {
		if k.name == name {
			c.cache.Remove(k)
		}
	}
}

// Len returns the number of pages currently cached.
func (c *PageCache) Len() int {
	return c.cache.Len()
}
