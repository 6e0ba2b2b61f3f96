package lru

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestCache_Basic(t *testing.T) {
	c := New[string, int](2, 0)
	c.Set("a", 1)
	c.Set("b", 2)

	assert.Equal(t, 1, *c.Get("a"))
	assert.Equal(t, 2, *c.Get("b"))

	// "a" is least recently used
	c.Set("c", 3)
	assert.Equal(t, 2, c.Len())
	assert.False(t, c.Has("a"))
	assert.True(t, c.Has("b"))
}

func TestCache_GetRefreshesRecency(t *testing.T) {
	c := New[string, int](2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)

	assert.True(t, c.Has("a"))
	assert.False(t, c.Has("b"))
}

func TestCache_Race(t *testing.T) {
	c := New[int, int](100, time.Minute)
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			c.Set(i, i)
		}(i)
		go func() {
			defer wg.Done()
			c.Keys()
		}()
		go func(i int) {
			defer wg.Done()
			c.Get(i)
		}(i)
	}

	wg.Wait()
}

func TestCache_IdleExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := New[string, int](10, time.Second)
	c.now = clock.Now

	c.Set("a", 1)
	c.Set("b", 2)

	clock.Advance(800 * time.Millisecond)
	assert.NotNil(t, c.Get("a"))

	clock.Advance(800 * time.Millisecond)
	// a was touched 800ms ago, b 1.6s ago
	assert.NotNil(t, c.Peek("a"))
	assert.Nil(t, c.Peek("b"))
	assert.Equal(t, 1, c.Expire())
	assert.Equal(t, 1, c.Len())
}

func TestCache_EvictionChannel_NonBlocking(t *testing.T) {
	evictCh := make(chan Eviction[string, int])
	c := New[string, int](1, 0)
	c.EvictionChannel = evictCh

	c.Set("a", 1)
	c.Set("b", 2)

	assert.Equal(t, 1, c.Len())
	assert.False(t, c.Has("a"))
}

func TestCache_EvictionChannel(t *testing.T) {
	evictCh := make(chan Eviction[string, int], 10)
	c := New[string, int](2, 0)
	c.EvictionChannel = evictCh

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	select {
	case ev := <-evictCh:
		assert.Equal(t, "a", ev.Key)
		assert.Equal(t, 1, ev.Value)
	default:
		t.Error("expected eviction notification")
	}
}

func TestCache_RemovePurge(t *testing.T) {
	c := New[string, int](10, 0)
	c.Set("a", 1)
	c.Set("b", 2)

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
	assert.Nil(t, c.Get("a"))

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestCache_Evict(t *testing.T) {
	c := New[string, int](10, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	assert.Equal(t, 2, c.Evict(2))
	assert.Equal(t, []string{"c"}, c.Keys())
	assert.Equal(t, 1, c.Evict(10))
}

func TestCache_NoBounds(t *testing.T) {
	c := New[int, int](0, 0)
	for i := 0; i < 100; i++ {
		c.Set(i, i)
	}
	assert.Equal(t, 100, c.Len())
}
