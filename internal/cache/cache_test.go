// ABOUTME: Tests for the conversation cache.
// ABOUTME: Validates TTL expiration, LRU eviction, rekeying, and concurrency safety.

package cache

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetMiss(t *testing.T) {
	c := New(5*time.Minute, 100)
	defer c.Close()

	_, ok := c.Get(ConversationKey("never-stored"))
	assert.False(t, ok)
}

func TestCache_PutGet(t *testing.T) {
	c := New(5*time.Minute, 100)
	defer c.Close()

	c.Put(ConversationKey("abc"), "detail")
	v, ok := c.Get(ConversationKey("abc"))
	require.True(t, ok)
	assert.Equal(t, "detail", v)
}

func TestCache_SeparateKeyspaces(t *testing.T) {
	c := New(5*time.Minute, 100)
	defer c.Close()

	c.Put(ConversationKey("42"), "detail")
	c.Put(UserListKey("42"), "list")

	v, ok := c.Get(ConversationKey("42"))
	require.True(t, ok)
	assert.Equal(t, "detail", v)

	v, ok = c.Get(UserListKey("42"))
	require.True(t, ok)
	assert.Equal(t, "list", v)
}

func TestCache_Expiry(t *testing.T) {
	c := New(10*time.Millisecond, 100)
	defer c.Close()

	c.Put("k", 1)
	_, ok := c.Get("k")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestCache_Delete(t *testing.T) {
	c := New(5*time.Minute, 100)
	defer c.Close()

	c.Put("k", 1)
	c.Delete("k")
	_, ok := c.Get("k")
	assert.False(t, ok)

	// Deleting a missing key is a no-op.
	c.Delete("missing")
}

func TestCache_LRUEviction(t *testing.T) {
	c := New(5*time.Minute, 3)
	defer c.Close()

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	// Touch "a" so "b" becomes least recently used.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("d", 4)

	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	for _, key := range []string{"a", "c", "d"} {
		_, ok := c.Get(key)
		assert.True(t, ok, "key %q should survive eviction", key)
	}
}

func TestCache_PutRefreshesExisting(t *testing.T) {
	c := New(5*time.Minute, 3)
	defer c.Close()

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	c.Put("a", 10)

	// Re-putting an existing key must not evict anything.
	for _, key := range []string{"a", "b", "c"} {
		_, ok := c.Get(key)
		assert.True(t, ok)
	}
	v, _ := c.Get("a")
	assert.Equal(t, 10, v)
}

func TestCache_Rekey(t *testing.T) {
	c := New(5*time.Minute, 100)
	defer c.Close()

	c.Put(ConversationKey("thread_tmp1"), "detail")
	c.Rekey("thread_tmp1", "srv-900")

	_, ok := c.Get(ConversationKey("thread_tmp1"))
	assert.False(t, ok, "provisional key should be gone after rekey")

	v, ok := c.Get(ConversationKey("srv-900"))
	require.True(t, ok)
	assert.Equal(t, "detail", v)
}

func TestCache_RekeyMissingSource(t *testing.T) {
	c := New(5*time.Minute, 100)
	defer c.Close()

	c.Rekey("thread_nope", "srv-1")
	_, ok := c.Get(ConversationKey("srv-1"))
	assert.False(t, ok)
}

func TestCache_RekeyOverwritesTarget(t *testing.T) {
	c := New(5*time.Minute, 100)
	defer c.Close()

	c.Put(ConversationKey("thread_tmp1"), "fresh")
	c.Put(ConversationKey("srv-1"), "stale")
	c.Rekey("thread_tmp1", "srv-1")

	v, ok := c.Get(ConversationKey("srv-1"))
	require.True(t, ok)
	assert.Equal(t, "fresh", v)
}

func TestCache_RunCleanupRemovesExpired(t *testing.T) {
	c := New(10*time.Millisecond, 100)
	defer c.Close()

	c.Put("x", 1)
	c.Put("y", 2)
	time.Sleep(20 * time.Millisecond)

	c.runCleanup()

	c.mu.Lock()
	remaining := len(c.entries)
	c.mu.Unlock()
	assert.Equal(t, 0, remaining)
}

func TestCache_Concurrent(t *testing.T) {
	c := New(5*time.Minute, 1000)
	defer c.Close()

	const numGoroutines = 50
	const opsPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				key := ConversationKey(strconv.Itoa(id%10) + "-" + strconv.Itoa(j%10))
				c.Put(key, j)
				c.Get(key)
				if j%7 == 0 {
					c.Delete(key)
				}
			}
		}(i)
	}
	wg.Wait()

	c.Put("final", 1)
	_, ok := c.Get("final")
	assert.True(t, ok)
}

func TestCache_Close(t *testing.T) {
	c := New(5*time.Minute, 100)
	c.Put("k", 1)
	c.Close()
	c.Close()
}
