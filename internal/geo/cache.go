package geo

import (
	"context"
	"sync"

	"github.com/lucaspecout/ope-protec/internal/observability"
)

// CachedGeocoder wraps a Geocoder with a fixed-capacity LRU cache. Commune
// centroids never move, so entries have no expiry; the capacity bound keeps
// memory flat when station surveys cycle through many commune codes.
type CachedGeocoder struct {
	inner   Geocoder
	centres *lruCache[Point]
	names   *lruCache[Commune]
	metrics *observability.Metrics
}

// NewCachedGeocoder wraps inner with caches of the given capacity per
// lookup method.
func NewCachedGeocoder(inner Geocoder, capacity int, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		centres: newLRUCache[Point](capacity),
		names:   newLRUCache[Commune](capacity),
		metrics: metrics,
	}
}

func (c *CachedGeocoder) CommuneCentre(ctx context.Context, codeINSEE string) (Point, error) {
	if p, ok := c.centres.get(codeINSEE); ok {
		c.observeCache("centre", "hit")
		return p, nil
	}
	c.observeCache("centre", "miss")

	p, err := c.inner.CommuneCentre(ctx, codeINSEE)
	if err != nil {
		c.observeRequest("centre", "error")
		return Point{}, err
	}
	c.observeRequest("centre", "success")
	c.centres.put(codeINSEE, p)
	return p, nil
}

func (c *CachedGeocoder) ResolveCommune(ctx context.Context, name, departement string) (Commune, error) {
	key := departement + "/" + NormalizeName(name)
	if commune, ok := c.names.get(key); ok {
		c.observeCache("resolve", "hit")
		return commune, nil
	}
	c.observeCache("resolve", "miss")

	commune, err := c.inner.ResolveCommune(ctx, name, departement)
	if err != nil {
		c.observeRequest("resolve", "error")
		return Commune{}, err
	}
	c.observeRequest("resolve", "success")
	c.names.put(key, commune)
	return commune, nil
}

func (c *CachedGeocoder) observeCache(method, result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.GeocodeCache.WithLabelValues(method, result).Inc()
}

func (c *CachedGeocoder) observeRequest(method, outcome string) {
	if c.metrics == nil {
		return
	}
	c.metrics.GeocodeRequests.WithLabelValues(method, outcome).Inc()
}

// lruCache is a minimal thread-safe LRU with a doubly linked recency list.
type lruCache[V any] struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*lruEntry[V]
	head     *lruEntry[V] // most recent
	tail     *lruEntry[V] // least recent
}

type lruEntry[V any] struct {
	key   string
	value V
	prev  *lruEntry[V]
	next  *lruEntry[V]
}

func newLRUCache[V any](capacity int) *lruCache[V] {
	if capacity <= 0 {
		capacity = 128
	}
	return &lruCache[V]{
		capacity: capacity,
		entries:  make(map[string]*lruEntry[V], capacity),
	}
}

func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &lruEntry[V]{key: key, value: value}
	c.entries[key] = e
	c.pushFront(e)

	if len(c.entries) > c.capacity {
		evicted := c.tail
		c.unlink(evicted)
		delete(c.entries, evicted.key)
	}
}

func (c *lruCache[V]) moveToFront(e *lruEntry[V]) {
	if c.head == e {
		return
	}
	c.unlink(e)
	c.pushFront(e)
}

func (c *lruCache[V]) pushFront(e *lruEntry[V]) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache[V]) unlink(e *lruEntry[V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}
