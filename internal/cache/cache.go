// Package cache is a keyed TTL cache that keeps stale entries around as a
// fallback. Entries are never removed on expiry; they become stale and are
// still readable through GetStaleIfPresent until overwritten or evicted.
//
// Each key owns an atomic slot, so readers and writers of different keys
// never contend. Writes to the same key are ordered by FetchedAt: a write
// carrying an older FetchedAt than the current entry is rejected.
package cache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Entry is one cached value and the time it was fetched.
type Entry[T any] struct {
	Data      T             `json:"data"`
	FetchedAt time.Time     `json:"fetched_at"`
	TTL       time.Duration `json:"ttl"`
}

// FreshAt reports whether the entry is still within its TTL at now.
func (e Entry[T]) FreshAt(now time.Time) bool {
	return now.Sub(e.FetchedAt) <= e.TTL
}

// Cache maps string keys to entries of T.
type Cache[T any] struct {
	clock clockwork.Clock
	slots sync.Map // string -> *atomic.Pointer[Entry[T]]
}

// New creates an empty cache reading time from clock.
func New[T any](clock clockwork.Clock) *Cache[T] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache[T]{clock: clock}
}

func (c *Cache[T]) slot(key string) *atomic.Pointer[Entry[T]] {
	if p, ok := c.slots.Load(key); ok {
		return p.(*atomic.Pointer[Entry[T]])
	}
	p, _ := c.slots.LoadOrStore(key, new(atomic.Pointer[Entry[T]]))
	return p.(*atomic.Pointer[Entry[T]])
}

func (c *Cache[T]) load(key string) *Entry[T] {
	p, ok := c.slots.Load(key)
	if !ok {
		return nil
	}
	return p.(*atomic.Pointer[Entry[T]]).Load()
}

// Get returns the value for key and whether it is fresh. A missing key
// returns the zero value and false.
func (c *Cache[T]) Get(key string) (T, bool) {
	e := c.load(key)
	if e == nil {
		var zero T
		return zero, false
	}
	return e.Data, e.FreshAt(c.clock.Now())
}

// Set stores value under key, fetched now.
func (c *Cache[T]) Set(key string, value T, ttl time.Duration) {
	c.SetAt(key, value, ttl, c.clock.Now())
}

// SetAt stores value under key as fetched at fetchedAt. It returns false,
// leaving the cache untouched, when the current entry was fetched later.
// Equal timestamps overwrite.
func (c *Cache[T]) SetAt(key string, value T, ttl time.Duration, fetchedAt time.Time) bool {
	next := &Entry[T]{Data: value, FetchedAt: fetchedAt, TTL: ttl}
	p := c.slot(key)
	for {
		cur := p.Load()
		if cur != nil && fetchedAt.Before(cur.FetchedAt) {
			return false
		}
		if p.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// GetStaleIfPresent returns the value for key regardless of freshness.
func (c *Cache[T]) GetStaleIfPresent(key string) (T, bool) {
	e := c.load(key)
	if e == nil {
		var zero T
		return zero, false
	}
	return e.Data, true
}

// Entry returns a copy of the full entry for key.
func (c *Cache[T]) Entry(key string) (Entry[T], bool) {
	e := c.load(key)
	if e == nil {
		return Entry[T]{}, false
	}
	return *e, true
}

// Evict drops the entry for key.
func (c *Cache[T]) Evict(key string) {
	if p, ok := c.slots.Load(key); ok {
		p.(*atomic.Pointer[Entry[T]]).Store(nil)
	}
}

// Keys returns the keys currently holding an entry, sorted.
func (c *Cache[T]) Keys() []string {
	var keys []string
	c.slots.Range(func(k, v any) bool {
		if v.(*atomic.Pointer[Entry[T]]).Load() != nil {
			keys = append(keys, k.(string))
		}
		return true
	})
	sort.Strings(keys)
	return keys
}
