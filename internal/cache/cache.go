// Package cache implements the fixed-capacity, uniform-TTL LRU embedding
// cache (C5) from spec.md §4.5, translated from
// original_source/src/embedding_cache.rs. The MRU/LRU ordering uses
// container/list + a map for O(1) get/put/evict, the standard Go idiom for
// an LRU (no suitable third-party LRU is used by any example repo in the
// pack, so this one component is built on the standard library — see
// DESIGN.md).
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/iskng/embed-star/internal/metrics"
)

// Entry is the cached value plus bookkeeping fields mirroring CacheEntry in
// original_source/src/embedding_cache.rs.
type Entry struct {
	Vector      []float32
	Model       string
	CreatedAt   time.Time
	LastAccessed time.Time
	Hits        int64
}

type node struct {
	key   string
	entry Entry
}

// Cache is a fixed-capacity LRU with a single TTL applied uniformly to
// every entry.
type Cache struct {
	mu       sync.Mutex
	maxSize  int
	ttl      time.Duration
	entries  map[string]*list.Element
	order    *list.List // front = LRU, back = MRU

	stopOnce sync.Once
	done     chan struct{}
}

// New creates a cache with the given capacity and TTL, and starts the
// background sweeper (every 5 minutes, per spec.md §4.5). Call Close to
// stop the sweeper.
func New(maxSize int, ttl time.Duration) *Cache {
	c := &Cache{
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Key builds the cache key "{full_name}:{model}" from spec.md §3.
func Key(fullName, model string) string {
	return fullName + ":" + model
}

// Get returns the cached vector and model for key, or (nil, "", false) on
// miss. A hit updates last-accessed, increments the hit counter, and moves
// the entry to the MRU end. An expired entry is evicted synchronously and
// reported as a miss.
func (c *Cache) Get(key string) ([]float32, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		metrics.CacheHits.WithLabelValues("miss").Inc()
		return nil, "", false
	}
	n := el.Value.(*node)
	if time.Since(n.entry.CreatedAt) > c.ttl {
		c.order.Remove(el)
		delete(c.entries, key)
		metrics.CacheHits.WithLabelValues("miss").Inc()
		return nil, "", false
	}

	n.entry.LastAccessed = time.Now()
	n.entry.Hits++
	c.order.MoveToBack(el)
	metrics.CacheHits.WithLabelValues("hit").Inc()
	return n.entry.Vector, n.entry.Model, true
}

// Put inserts or replaces the entry for key, evicting the LRU entry first
// if at capacity.
func (c *Cache) Put(key string, vector []float32, model string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}

	for len(c.entries) >= c.maxSize {
		front := c.order.Front()
		if front == nil {
			break
		}
		c.order.Remove(front)
		delete(c.entries, front.Value.(*node).key)
	}

	now := time.Now()
	n := &node{key: key, entry: Entry{Vector: vector, Model: model, CreatedAt: now, LastAccessed: now}}
	el := c.order.PushBack(n)
	c.entries[key] = el
}

// EvictExpired removes every entry whose TTL has elapsed. Called by the
// periodic sweeper and exposed for tests.
func (c *Cache) EvictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		n := el.Value.(*node)
		if now.Sub(n.entry.CreatedAt) > c.ttl {
			c.order.Remove(el)
			delete(c.entries, n.key)
		}
		el = next
	}
}

// Len returns the current number of entries (including not-yet-swept
// expired ones).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the background sweeper. Safe to call multiple times.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.EvictExpired()
		}
	}
}
