// ABOUTME: Thread-safe TTL cache of recently seen alert fingerprints
// ABOUTME: Alert ingestion drops events whose fingerprint is already cached

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Defaults applied when the configuration leaves them unset.
const (
	DefaultTTL     = 5 * time.Minute
	DefaultMaxSize = 10000
)

// cacheEntry stores the timestamp and list element for a cached fingerprint.
type cacheEntry struct {
	timestamp time.Time
	element   *list.Element
}

// Cache is a TTL-based, size-limited set of alert fingerprints seen recently.
// A doubly-linked list maintains insertion order for O(1) eviction.
type Cache struct {
	mu      sync.RWMutex
	seen    map[string]*cacheEntry
	order   *list.List // fingerprints in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a dedupe cache with the given TTL and maximum size; zero values
// pick the defaults. A background goroutine periodically removes expired
// entries.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Check returns true if the fingerprint has been seen and is not expired.
func (c *Cache) Check(fingerprint string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.seen[fingerprint]
	if !ok {
		return false
	}
	return time.Since(entry.timestamp) < c.ttl
}

// CheckAndMark atomically checks whether a fingerprint has been seen and
// marks it if not. Returns true for duplicates, false when the fingerprint
// is new and now marked. Avoids TOCTOU races between Check and Mark.
func (c *Cache) CheckAndMark(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[fingerprint]
	if ok && time.Since(entry.timestamp) < c.ttl {
		return true
	}

	c.markLocked(fingerprint)
	return false
}

// Mark records that a fingerprint has been seen. At capacity the oldest
// entry is evicted to make room.
func (c *Cache) Mark(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(fingerprint)
}

// markLocked must be called with mu held.
func (c *Cache) markLocked(fingerprint string) {
	now := time.Now()

	if entry, exists := c.seen[fingerprint]; exists {
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(fingerprint)
	c.seen[fingerprint] = &cacheEntry{
		timestamp: now,
		element:   elem,
	}
}

// evictOldest must be called with mu held. O(1) via the linked list.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	fingerprint, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, fingerprint)
}

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

func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for fingerprint, entry := range c.seen {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, fingerprint)
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
