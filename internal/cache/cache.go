// ABOUTME: Thread-safe TTL cache for conversation details and user thread lists.
// ABOUTME: Mutations drop entries so readers never see stale post-write state.

package cache

import (
	"container/list"
	"sync"
	"time"
)

// ConversationKey is the cache key for a single conversation's detail.
func ConversationKey(id string) string { return "conv:" + id }

// UserListKey is the cache key for a user's conversation list.
func UserListKey(userID string) string { return "list:" + userID }

// entry stores the cached value with its timestamp and list element.
type entry struct {
	value     any
	timestamp time.Time
	element   *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited cache. A doubly-linked
// list maintains recency order so eviction of the least recently used
// entry is O(1).
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // keys in recency order, least recent at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size. A background
// goroutine periodically removes expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns the cached value for key if present and unexpired, refreshing
// its recency.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.timestamp) >= c.ttl {
		c.removeLocked(key, e)
		return nil, false
	}
	c.order.MoveToBack(e.element)
	return e.value, true
}

// Put stores value under key, evicting the least recently used entry when
// the cache is at capacity.
func (c *Cache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, exists := c.entries[key]; exists {
		e.value = value
		e.timestamp = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &entry{value: value, timestamp: now, element: elem}
}

// Delete removes key from the cache. Missing keys are a no-op.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.removeLocked(key, e)
	}
}

// Rekey moves a cached conversation detail from a provisional id to its
// server-assigned id. The list keyspace is untouched; callers invalidate
// user lists explicitly after a rekey.
func (c *Cache) Rekey(oldID, newID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	oldKey := ConversationKey(oldID)
	e, ok := c.entries[oldKey]
	if !ok {
		return
	}
	c.removeLocked(oldKey, e)

	newKey := ConversationKey(newID)
	if prev, exists := c.entries[newKey]; exists {
		c.removeLocked(newKey, prev)
	}
	elem := c.order.PushBack(newKey)
	c.entries[newKey] = &entry{value: e.value, timestamp: e.timestamp, element: elem}
}

// removeLocked deletes an entry. Must be called with mu held.
func (c *Cache) removeLocked(key string, e *entry) {
	c.order.Remove(e.element)
	delete(c.entries, key)
}

// evictOldest removes the least recently used entry. Must be called with
// mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	if e, ok := c.entries[key]; ok {
		c.removeLocked(key, e)
	}
}

// cleanup runs in a background goroutine, periodically removing expired
// entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if now.Sub(e.timestamp) > c.ttl {
			c.removeLocked(key, e)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
