package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_FreshThenStale(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New[[]string](clock)

	c.Set("earthquake", []string{"a"}, time.Minute)

	v, fresh := c.Get("earthquake")
	assert.True(t, fresh)
	assert.Equal(t, []string{"a"}, v)

	clock.Advance(time.Minute)
	_, fresh = c.Get("earthquake")
	assert.True(t, fresh, "exactly ttl old is still fresh")

	clock.Advance(time.Nanosecond)
	v, fresh = c.Get("earthquake")
	assert.False(t, fresh)
	assert.Equal(t, []string{"a"}, v)

	stale, ok := c.GetStaleIfPresent("earthquake")
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, stale)
}

func TestCache_MissingKey(t *testing.T) {
	c := New[int](clockwork.NewFakeClock())

	v, fresh := c.Get("nope")
	assert.Zero(t, v)
	assert.False(t, fresh)

	_, ok := c.GetStaleIfPresent("nope")
	assert.False(t, ok)

	_, ok = c.Entry("nope")
	assert.False(t, ok)
}

func TestCache_SetAtRejectsOlderWrite(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New[string](clock)
	now := clock.Now()

	require.True(t, c.SetAt("storm", "fresh", time.Minute, now))
	assert.False(t, c.SetAt("storm", "late arrival", time.Minute, now.Add(-time.Second)))

	v, _ := c.Get("storm")
	assert.Equal(t, "fresh", v)

	assert.True(t, c.SetAt("storm", "same instant", time.Minute, now), "ties overwrite")
	v, _ = c.Get("storm")
	assert.Equal(t, "same instant", v)

	entry, ok := c.Entry("storm")
	require.True(t, ok)
	assert.Equal(t, now, entry.FetchedAt)
	assert.Equal(t, time.Minute, entry.TTL)
}

func TestCache_ConcurrentSameKeyKeepsNewest(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New[int](clock)
	base := clock.Now()

	var wg sync.WaitGroup
	for i := range 200 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.SetAt("flood", i, time.Minute, base.Add(time.Duration(i)*time.Millisecond))
		}(i)
	}
	wg.Wait()

	entry, ok := c.Entry("flood")
	require.True(t, ok)
	assert.Equal(t, 199, entry.Data)
	assert.Equal(t, base.Add(199*time.Millisecond), entry.FetchedAt)
}

func TestCache_ConcurrentDistinctKeys(t *testing.T) {
	c := New[int](clockwork.NewFakeClock())

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%02d", i)
			c.Set(key, i, time.Minute)
			v, fresh := c.Get(key)
			assert.True(t, fresh)
			assert.Equal(t, i, v)
		}(i)
	}
	wg.Wait()

	assert.Len(t, c.Keys(), 50)
}

func TestCache_EvictAndKeys(t *testing.T) {
	c := New[int](clockwork.NewFakeClock())
	c.Set("b", 2, time.Minute)
	c.Set("a", 1, time.Minute)

	assert.Equal(t, []string{"a", "b"}, c.Keys())

	c.Evict("a")
	_, ok := c.GetStaleIfPresent("a")
	assert.False(t, ok)
	assert.Equal(t, []string{"b"}, c.Keys())

	c.Evict("missing")
}

func TestEntry_FreshAt(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := Entry[int]{FetchedAt: at, TTL: 2 * time.Minute}

	assert.True(t, e.FreshAt(at))
	assert.True(t, e.FreshAt(at.Add(2*time.Minute)))
	assert.False(t, e.FreshAt(at.Add(2*time.Minute+time.Nanosecond)))
}

func TestNewRedisSnapshotter_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisSnapshotter[int](ctx, RedisConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis snapshot store")
}
