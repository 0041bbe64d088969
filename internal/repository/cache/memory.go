package cache

import "sync"

// MemoryCache is the volatile tier. Expired entries stay resident until
// invalidated so they remain available as stale fallback candidates.
type MemoryCache struct {
	m *TypedSyncMap
}

type TypedSyncMap struct {
	m sync.Map
}

func (c *TypedSyncMap) Load(k string) (Entry, bool) {
	v, exists := c.m.Load(k)
	if !exists {
		return Entry{}, false
	}
	return v.(Entry), exists
}

func (c *TypedSyncMap) Store(k string, v Entry) {
	c.m.Store(k, v)
}

func (c *TypedSyncMap) Delete(k string) {
	c.m.Delete(k)
}

func (c *TypedSyncMap) Clear() {
	c.m.Range(func(k, _ any) bool {
		c.m.Delete(k)
		return true
	})
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		m: &TypedSyncMap{},
	}
}

func (c *MemoryCache) Get(k string) (Entry, bool) {
	return c.m.Load(k)
}

func (c *MemoryCache) Set(k string, e Entry) {
	c.m.Store(k, e)
}

func (c *MemoryCache) Delete(k string) {
	c.m.Delete(k)
}

func (c *MemoryCache) Clear() {
	c.m.Clear()
}
