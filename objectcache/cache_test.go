package objectcache

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fetchv1 "github.com/omalloc/trove/api/defined/v1/fetch"
	"github.com/omalloc/trove/pkg/freshness"
	"github.com/omalloc/trove/storage/sharedkv"
)

type subreddit struct {
	Name        string `json:"name"`
	Subscribers int    `json:"subscribers"`
}

// gatedFetcher answers every key with a subreddit named after it, once
// gate is closed.
type gatedFetcher struct {
	gate    chan struct{}
	started chan []string
	calls   atomic.Int32

	mu      sync.Mutex
	batches [][]string
	result  func(keys []string) (*FetchResult[string, subreddit], error)
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{
		gate:    make(chan struct{}),
		started: make(chan []string, 16),
	}
}

func (f *gatedFetcher) open() *gatedFetcher {
	close(f.gate)
	return f
}

func (f *gatedFetcher) Fetch(ctx context.Context, keys []string) (*FetchResult[string, subreddit], error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.batches = append(f.batches, slices.Clone(keys))
	f.mu.Unlock()
	f.started <- keys

	select {
	case <-f.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if f.result != nil {
		return f.result(keys)
	}
	res := &FetchResult[string, subreddit]{Values: make(map[string]subreddit)}
	for _, k := range keys {
		res.Values[k] = subreddit{Name: k, Subscribers: len(k)}
	}
	return res, nil
}

func (f *gatedFetcher) recorded() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.batches)
}

func newCache(t *testing.T, f Fetcher[string, subreddit], opts ...Option) *Cache[string, subreddit] {
	t.Helper()
	c, err := New[string, subreddit](f, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type answer struct {
	value subreddit
	ts    time.Time
	err   error
}

func collect() (Callback[subreddit], <-chan answer) {
	ch := make(chan answer, 8)
	return func(v subreddit, ts time.Time, err error) {
		ch <- answer{v, ts, err}
	}, ch
}

func await(t *testing.T, ch <-chan answer) answer {
	t.Helper()
	select {
	case a := <-ch:
		return a
	case <-time.After(5 * time.Second):
		t.Fatal("no answer")
		return answer{}
	}
}

func awaitStarted(t *testing.T, f *gatedFetcher) []string {
	t.Helper()
	select {
	case keys := <-f.started:
		return keys
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not start")
		return nil
	}
}

func TestCoalescing(t *testing.T) {
	f := newGatedFetcher()
	c := newCache(t, f, WithWorkers(1))

	cb1, ch1 := collect()
	cb2, ch2 := collect()
	c.Request("golang", freshness.Any(), cb1, nil)
	awaitStarted(t, f)
	c.Request("golang", freshness.Any(), cb2, nil)
	f.open()

	a1, a2 := await(t, ch1), await(t, ch2)
	require.NoError(t, a1.err)
	require.NoError(t, a2.err)
	assert.Equal(t, "golang", a1.value.Name)
	assert.Equal(t, a1, a2)
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestAnyBoundServesStoredValue(t *testing.T) {
	f := newGatedFetcher().open()
	c := newCache(t, f)

	c.Offer(map[string]subreddit{"golang": {Name: "golang", Subscribers: 7}}, time.Now().Add(-24*time.Hour))

	v, _, err := c.Get(context.Background(), "golang", freshness.Any())
	require.NoError(t, err)
	assert.Equal(t, 7, v.Subscribers)
	assert.Zero(t, f.calls.Load())
}

func TestStaleValueRefreshes(t *testing.T) {
	f := newGatedFetcher().open()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	c := newCache(t, f, WithClock(clock))

	c.Offer(map[string]subreddit{"golang": {Name: "old"}}, clock())

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	v, ts, err := c.Get(context.Background(), "golang", freshness.NotOlderThan(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "golang", v.Name)
	assert.Equal(t, clock(), ts)
	assert.EqualValues(t, 1, f.calls.Load())

	// the refreshed value now satisfies the bound
	_, _, err = c.Get(context.Background(), "golang", freshness.NotOlderThan(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestOfferSatisfiesWaiters(t *testing.T) {
	f := newGatedFetcher()
	c := newCache(t, f)

	var calls atomic.Int32
	got := make(chan subreddit, 2)
	c.Request("golang", freshness.Any(), func(v subreddit, _ time.Time, err error) {
		calls.Add(1)
		assert.NoError(t, err)
		got <- v
	}, nil)
	awaitStarted(t, f)

	offered := subreddit{Name: "golang", Subscribers: 99}
	c.Offer(map[string]subreddit{"golang": offered}, time.Now().Add(time.Hour))

	select {
	case v := <-got:
		assert.Equal(t, offered, v)
	case <-time.After(5 * time.Second):
		t.Fatal("offer did not answer the waiter")
	}

	f.open()
	require.NoError(t, c.Close())
	assert.EqualValues(t, 1, calls.Load())

	// the newer offered value survives the refresh
	tv, ok := c.Peek("golang")
	require.True(t, ok)
	assert.Equal(t, offered, tv.Value)
}

func TestOfferDropsQueuedRefresh(t *testing.T) {
	f := newGatedFetcher()
	c := newCache(t, f, WithWorkers(1))

	block, _ := collect()
	c.Request("first", freshness.Any(), block, nil)
	awaitStarted(t, f)

	cb, ch := collect()
	c.Request("golang", freshness.Any(), cb, nil)
	c.Offer(map[string]subreddit{"golang": {Name: "offered"}}, time.Now())
	assert.Equal(t, "offered", await(t, ch).value.Name)

	f.open()
	require.NoError(t, c.Close())
	assert.Equal(t, [][]string{{"first"}}, f.recorded())
}

func TestBatching(t *testing.T) {
	f := newGatedFetcher()
	c := newCache(t, f, WithWorkers(1), WithMaxBatch(3))

	var wg sync.WaitGroup
	request := func(key string) {
		wg.Add(1)
		c.Request(key, freshness.Any(), func(_ subreddit, _ time.Time, err error) {
			assert.NoError(t, err)
			wg.Done()
		}, nil)
	}

	request("k0")
	awaitStarted(t, f)
	for _, k := range []string{"k1", "k2", "k3", "k4", "k5"} {
		request(k)
	}
	f.open()
	wg.Wait()

	assert.Equal(t, [][]string{{"k0"}, {"k1", "k2", "k3"}, {"k4", "k5"}}, f.recorded())
}

func TestFailureFanOut(t *testing.T) {
	boom := errors.New("503 from api")
	f := newGatedFetcher()
	f.result = func([]string) (*FetchResult[string, subreddit], error) { return nil, boom }
	c := newCache(t, f, WithWorkers(1))

	block, first := collect()
	c.Request("a", freshness.Any(), block, nil)
	awaitStarted(t, f)

	cbs := make([]<-chan answer, 0, 3)
	for _, k := range []string{"a", "b", "b"} {
		cb, ch := collect()
		c.Request(k, freshness.Any(), cb, nil)
		cbs = append(cbs, ch)
	}
	f.open()

	assert.ErrorIs(t, await(t, first).err, boom)
	for _, ch := range cbs {
		assert.ErrorIs(t, await(t, ch).err, boom)
	}
	assert.Equal(t, 0, c.Len())
}

func TestPartialFailure(t *testing.T) {
	gone := errors.New("banned")
	f := newGatedFetcher().open()
	f.result = func([]string) (*FetchResult[string, subreddit], error) {
		return &FetchResult[string, subreddit]{
			Values: map[string]subreddit{"a": {Name: "a"}},
			Errors: map[string]error{"b": gone},
		}, nil
	}
	c := newCache(t, f)

	got, err := c.GetMany(context.Background(), []string{"a", "b", "c", "a"}, freshness.Any())
	require.Error(t, err)
	assert.ErrorIs(t, err, gone)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, got, 1)
	assert.Equal(t, "a", got["a"].Value.Name)
}

func TestRequestManyReturnsHits(t *testing.T) {
	f := newGatedFetcher().open()
	c := newCache(t, f)
	c.Offer(map[string]subreddit{"a": {Name: "a"}}, time.Now())

	done := make(chan string, 2)
	hits := c.RequestMany([]string{"a", "b"}, freshness.Any(), func(key string, _ subreddit, _ time.Time, err error) {
		assert.NoError(t, err)
		done <- key
	})

	assert.Len(t, hits, 1)
	assert.Contains(t, hits, "a")
	select {
	case key := <-done:
		assert.Equal(t, "b", key)
	case <-time.After(5 * time.Second):
		t.Fatal("b was not fetched")
	}
}

func TestPersistenceReload(t *testing.T) {
	kv := sharedkv.NewMemSharedKV()
	defer kv.Close()

	f := newGatedFetcher().open()
	first, err := New[string, subreddit](f, kv, WithName("subreddits"))
	require.NoError(t, err)
	_, _, err = first.Get(context.Background(), "golang", freshness.Any())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New[string, subreddit](f, kv, WithName("subreddits"))
	require.NoError(t, err)
	defer second.Close()

	v, _, err := second.Get(context.Background(), "golang", freshness.Any())
	require.NoError(t, err)
	assert.Equal(t, subreddit{Name: "golang", Subscribers: 6}, v)
	assert.EqualValues(t, 1, f.calls.Load())

	// other names do not share values
	other, err := New[string, subreddit](f, kv, WithName("users"))
	require.NoError(t, err)
	defer other.Close()
	_, _, err = other.Get(context.Background(), "golang", freshness.Any())
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.calls.Load())
}

func TestConcurrentOffersKeepNewest(t *testing.T) {
	kv := sharedkv.NewMemSharedKV()
	defer kv.Close()

	first, err := New[string, subreddit](newGatedFetcher().open(), kv, WithName("subreddits"))
	require.NoError(t, err)

	const writers = 64
	base := time.Now().Add(-time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			first.Offer(map[string]subreddit{"golang": {Name: "golang", Subscribers: i}}, base.Add(time.Duration(i)*time.Second))
		}(i)
	}
	wg.Wait()

	newest := subreddit{Name: "golang", Subscribers: writers - 1}
	held, ok := first.Peek("golang")
	require.True(t, ok)
	assert.Equal(t, newest, held.Value)
	require.NoError(t, first.Close())

	// the store agrees with memory
	second, err := New[string, subreddit](newGatedFetcher().open(), kv, WithName("subreddits"))
	require.NoError(t, err)
	defer second.Close()
	v, _, err := second.Get(context.Background(), "golang", freshness.Any())
	require.NoError(t, err)
	assert.Equal(t, newest, v)
}

func TestSubscribe(t *testing.T) {
	c := newCache(t, newGatedFetcher().open())

	got := make(chan subreddit, 4)
	unsubscribe := c.Subscribe("golang", func(v subreddit, _ time.Time) { got <- v })

	now := time.Now()
	c.Offer(map[string]subreddit{"golang": {Name: "v2"}}, now)
	select {
	case v := <-got:
		assert.Equal(t, "v2", v.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("listener not called")
	}

	// older versions are not announced
	c.Offer(map[string]subreddit{"golang": {Name: "v1"}}, now.Add(-time.Hour))
	unsubscribe()
	c.Offer(map[string]subreddit{"golang": {Name: "v3"}}, now.Add(time.Hour))

	select {
	case v := <-got:
		t.Fatalf("unexpected notification %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLateWaiterGetsNewRefresh(t *testing.T) {
	f := newGatedFetcher()
	c := newCache(t, f, WithWorkers(1))

	cb1, ch1 := collect()
	c.Request("golang", freshness.Any(), cb1, nil)
	awaitStarted(t, f)

	// a value fetched before this request was made is not acceptable
	cb2, ch2 := collect()
	c.Request("golang", freshness.None(), cb2, nil)
	f.open()

	require.NoError(t, await(t, ch1).err)
	require.NoError(t, await(t, ch2).err)
	assert.EqualValues(t, 2, f.calls.Load())
}

func TestClose(t *testing.T) {
	f := newGatedFetcher()
	c, err := New[string, subreddit](f, nil, WithWorkers(1))
	require.NoError(t, err)

	inflight, ch1 := collect()
	c.Request("a", freshness.Any(), inflight, nil)
	awaitStarted(t, f)
	queued, ch2 := collect()
	c.Request("b", freshness.Any(), queued, nil)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, await(t, ch1).err, context.Canceled)
	assert.ErrorIs(t, await(t, ch2).err, ErrClosed)

	_, _, err = c.Get(context.Background(), "a", freshness.Any())
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, c.Close())
}

func TestFetcherPanic(t *testing.T) {
	c := newCache(t, FetcherFunc[string, subreddit](func(context.Context, []string) (*FetchResult[string, subreddit], error) {
		panic("bad payload")
	}))

	_, _, err := c.Get(context.Background(), "golang", freshness.Any())
	assert.ErrorContains(t, err, "bad payload")
}

func TestNewRequiresFetcher(t *testing.T) {
	_, err := New[string, subreddit](nil, nil)
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	var built []fetchv1.Principal
	r := NewRegistry(func(p fetchv1.Principal) (*Cache[string, subreddit], error) {
		built = append(built, p)
		return New[string, subreddit](newGatedFetcher().open(), nil, WithName(Namespace(p)))
	})

	alice := fetchv1.Principal{Username: "alice"}
	a1, err := r.Get(alice)
	require.NoError(t, err)
	a2, err := r.Get(alice)
	require.NoError(t, err)
	assert.Same(t, a1, a2)

	anon, err := r.Get(fetchv1.AnonymousPrincipal)
	require.NoError(t, err)
	assert.NotSame(t, a1, anon)
	assert.Equal(t, []fetchv1.Principal{alice, fetchv1.AnonymousPrincipal}, built)
	assert.Equal(t, anonymousNamespace, Namespace(fetchv1.AnonymousPrincipal))
	assert.Equal(t, alice.Namespace(), Namespace(alice))
	assert.Equal(t, 2, r.Len())

	require.NoError(t, r.Remove(alice))
	assert.Equal(t, 1, r.Len())
	_, _, err = a1.Get(context.Background(), "golang", freshness.Any())
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, r.Close())
	assert.Equal(t, 0, r.Len())
}

func TestRegistryFactoryError(t *testing.T) {
	boom := errors.New("no disk")
	r := NewRegistry(func(fetchv1.Principal) (*Cache[string, subreddit], error) { return nil, boom })
	_, err := r.Get(fetchv1.AnonymousPrincipal)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, r.Len())
}
