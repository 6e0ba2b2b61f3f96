// Package objectcache keeps typed values fetched from a remote API in a
// memory LRU backed by a persistent KV store, refreshing missing or stale
// keys in batches.
package objectcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/maniartech/signals"
	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"

	storagev1 "github.com/omalloc/trove/api/defined/v1/storage"
	"github.com/omalloc/trove/contrib/log"
	"github.com/omalloc/trove/pkg/algorithm/lru"
	"github.com/omalloc/trove/pkg/freshness"
	"github.com/omalloc/trove/storage/sharedkv"
)

var (
	// ErrNotFound is delivered for keys a refresh did not return.
	ErrNotFound = errors.New("objectcache: not found")
	// ErrClosed is delivered to requests made on or pending at a closed cache.
	ErrClosed = errors.New("objectcache: closed")
)

// Timestamped is a value and the time it was fetched.
type Timestamped[V any] struct {
	Value     V         `json:"value" cbor:"value"`
	Timestamp time.Time `json:"ts" cbor:"ts"`
}

// FetchResult is the outcome of one remote refresh. A zero Timestamp
// stamps values with the time the refresh started.
type FetchResult[K comparable, V any] struct {
	Values    map[K]V
	Errors    map[K]error
	Timestamp time.Time
}

// Fetcher loads a batch of keys from the remote API.
type Fetcher[K comparable, V any] interface {
	Fetch(ctx context.Context, keys []K) (*FetchResult[K, V], error)
}

type FetcherFunc[K comparable, V any] func(ctx context.Context, keys []K) (*FetchResult[K, V], error)

func (f FetcherFunc[K, V]) Fetch(ctx context.Context, keys []K) (*FetchResult[K, V], error) {
	return f(ctx, keys)
}

// Callback receives the outcome of a request exactly once.
type Callback[V any] func(value V, ts time.Time, err error)

// Listener is told about every fresher version of a key.
type Listener[V any] func(value V, ts time.Time)

type waiter[V any] struct {
	bound freshness.Bound
	cb    Callback[V]
}

type pending[V any] struct {
	inflight bool
	started  time.Time
	waiters  []waiter[V]
	// late waiters need a value newer than the in-flight refresh can give.
	late []waiter[V]
}

type Cache[K comparable, V any] struct {
	opts    options
	log     *log.Helper
	fetcher Fetcher[K, V]
	kv      storagev1.SharedKV
	mem     *lru.Cache[K, Timestamped[V]]
	sem     *semaphore.Weighted
	prefix  string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	dispatching bool
	pending     map[K]*pending[V]
	queue       []K
	subs        map[K]*signals.AsyncSignal[Timestamped[V]]
	subSeq      uint64

	// writes of one key go through its stripe so the newest value wins
	stripes [keyStripes]sync.Mutex
}

const keyStripes = 64

// New returns a cache refreshing through fetcher and persisting to kv. A
// nil kv keeps values in memory only.
func New[K comparable, V any](fetcher Fetcher[K, V], kv storagev1.SharedKV, opts ...Option) (*Cache[K, V], error) {
	if fetcher == nil {
		return nil, errors.New("objectcache: fetcher is required")
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	o.fill()

	if kv == nil {
		kv = sharedkv.NewEmpty()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache[K, V]{
		opts:    o,
		log:     log.NewHelper(log.With(o.logger, "module", "objectcache", "cache", o.name)),
		fetcher: fetcher,
		kv:      kv,
		mem:     lru.New[K, Timestamped[V]](o.capacity, o.grace),
		sem:     semaphore.NewWeighted(int64(o.workers)),
		prefix:  "oc/" + o.name + "/",
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[K]*pending[V]),
		subs:    make(map[K]*signals.AsyncSignal[Timestamped[V]]),
	}
	c.mem.SetClock(o.now)

	evicted := make(chan lru.Eviction[K, Timestamped[V]], 64)
	c.mem.EvictionChannel = evicted

	c.wg.Add(1)
	go c.janitor(evicted)
	return c, nil
}

func (c *Cache[K, V]) janitor(evicted <-chan lru.Eviction[K, Timestamped[V]]) {
	defer c.wg.Done()

	ticker := time.NewTicker(max(c.opts.grace/2, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mem.Expire()
		case <-evicted:
			_metricEvictions.WithLabelValues(c.opts.name).Inc()
		}
	}
}

func (c *Cache[K, V]) storeKey(key K) []byte {
	return []byte(c.prefix + c.opts.keyFunc(key))
}

func (c *Cache[K, V]) stripe(key K) *sync.Mutex {
	return &c.stripes[xxhash.Sum64String(c.opts.keyFunc(key))%keyStripes]
}

// lookup answers from memory then the backing store.
func (c *Cache[K, V]) lookup(key K, bound freshness.Bound) (Timestamped[V], string, bool) {
	now := c.opts.now()
	if v := c.mem.Get(key); v != nil {
		if bound.Satisfied(v.Timestamp, now) {
			return *v, outcomeMemoryHit, true
		}
		// memory is written through, the store cannot hold anything newer
		return Timestamped[V]{}, outcomeMiss, false
	}

	data, err := c.kv.Get(c.ctx, c.storeKey(key))
	if err != nil {
		if !errors.Is(err, storagev1.ErrKeyNotFound) {
			c.log.Warnf("load %v failed: %v", key, err)
		}
		return Timestamped[V]{}, outcomeMiss, false
	}

	var tv Timestamped[V]
	if err := c.opts.codec.Unmarshal(data, &tv); err != nil {
		c.log.Warnf("decode %v failed: %v", key, err)
		return Timestamped[V]{}, outcomeMiss, false
	}
	mu := c.stripe(key)
	mu.Lock()
	if cur := c.mem.Peek(key); cur != nil && cur.Timestamp.After(tv.Timestamp) {
		tv = *cur
	} else {
		c.mem.Set(key, tv)
	}
	mu.Unlock()
	if bound.Satisfied(tv.Timestamp, now) {
		return tv, outcomeStoreHit, true
	}
	return Timestamped[V]{}, outcomeMiss, false
}

// Request delivers the value of key to cb, from memory or the backing store
// when it satisfies bound, otherwise after a refresh. A non-nil listener is
// subscribed to later versions of key until unsubscribe is called.
func (c *Cache[K, V]) Request(key K, bound freshness.Bound, cb Callback[V], listener Listener[V]) (unsubscribe func()) {
	unsubscribe = func() {}
	if listener != nil {
		unsubscribe = c.Subscribe(key, listener)
	}

	if tv, outcome, ok := c.lookup(key, bound); ok {
		_metricLookups.WithLabelValues(c.opts.name, outcome).Inc()
		cb(tv.Value, tv.Timestamp, nil)
		return unsubscribe
	}

	if !c.enqueue(key, waiter[V]{bound: bound, cb: cb}) {
		var zero V
		cb(zero, time.Time{}, ErrClosed)
	}
	return unsubscribe
}

// Get is the blocking form of Request.
func (c *Cache[K, V]) Get(ctx context.Context, key K, bound freshness.Bound) (V, time.Time, error) {
	type result struct {
		v   V
		ts  time.Time
		err error
	}
	ch := make(chan result, 1)
	c.Request(key, bound, func(v V, ts time.Time, err error) {
		ch <- result{v, ts, err}
	}, nil)

	select {
	case r := <-ch:
		return r.v, r.ts, r.err
	case <-ctx.Done():
		var zero V
		return zero, time.Time{}, ctx.Err()
	}
}

// RequestMany returns the keys answerable right away and requests the rest,
// calling cb once for each of them.
func (c *Cache[K, V]) RequestMany(keys []K, bound freshness.Bound, cb func(key K, value V, ts time.Time, err error)) map[K]Timestamped[V] {
	hits := make(map[K]Timestamped[V], len(keys))
	for _, key := range lo.Uniq(keys) {
		if tv, outcome, ok := c.lookup(key, bound); ok {
			_metricLookups.WithLabelValues(c.opts.name, outcome).Inc()
			hits[key] = tv
			continue
		}

		w := waiter[V]{bound: bound, cb: func(v V, ts time.Time, err error) { cb(key, v, ts, err) }}
		if !c.enqueue(key, w) {
			var zero V
			cb(key, zero, time.Time{}, ErrClosed)
		}
	}
	return hits
}

// GetMany blocks until every key is answered. Values that could not be
// loaded are absent from the result and joined into the error.
func (c *Cache[K, V]) GetMany(ctx context.Context, keys []K, bound freshness.Bound) (map[K]Timestamped[V], error) {
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	got := make(map[K]Timestamped[V], len(keys))

	uniq := lo.Uniq(keys)
	wg.Add(len(uniq))
	hits := c.RequestMany(uniq, bound, func(key K, v V, ts time.Time, err error) {
		defer wg.Done()
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("%v: %w", key, err))
			return
		}
		got[key] = Timestamped[V]{Value: v, Timestamp: ts}
	})
	wg.Add(-len(hits))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	for k, tv := range hits {
		got[k] = tv
	}
	return got, errors.Join(errs...)
}

func (c *Cache[K, V]) enqueue(key K, w waiter[V]) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	p, ok := c.pending[key]
	switch {
	case !ok:
		c.pending[key] = &pending[V]{waiters: []waiter[V]{w}}
		c.queue = append(c.queue, key)
		_metricLookups.WithLabelValues(c.opts.name, outcomeMiss).Inc()
		c.startDispatch()
	case !p.inflight || w.bound.SatisfiedByRefreshStartedAt(p.started, c.opts.now()):
		p.waiters = append(p.waiters, w)
		_metricLookups.WithLabelValues(c.opts.name, outcomeCoalesced).Inc()
	default:
		p.late = append(p.late, w)
		_metricLookups.WithLabelValues(c.opts.name, outcomeMiss).Inc()
	}
	return true
}

// startDispatch must be called with mu held.
func (c *Cache[K, V]) startDispatch() {
	if c.dispatching {
		return
	}
	c.dispatching = true
	c.wg.Add(1)
	go c.dispatch()
}

// dispatch hands queued keys to refresh workers until the queue drains.
func (c *Cache[K, V]) dispatch() {
	defer c.wg.Done()

	for {
		if err := c.sem.Acquire(c.ctx, 1); err != nil {
			c.mu.Lock()
			c.dispatching = false
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		if c.closed || len(c.queue) == 0 {
			c.dispatching = false
			c.mu.Unlock()
			c.sem.Release(1)
			return
		}

		n := min(len(c.queue), c.opts.maxBatch)
		batch := make([]K, n)
		copy(batch, c.queue[:n])
		c.queue = c.queue[n:]

		started := c.opts.now()
		for _, key := range batch {
			p := c.pending[key]
			p.inflight = true
			p.started = started
		}
		c.wg.Add(1)
		c.mu.Unlock()

		go c.refresh(batch, started)
	}
}

func (c *Cache[K, V]) refresh(batch []K, started time.Time) {
	defer c.wg.Done()
	defer c.sem.Release(1)

	_metricRefreshKeys.WithLabelValues(c.opts.name).Observe(float64(len(batch)))

	res, err := c.fetch(batch)
	if err != nil {
		c.log.Warnf("refresh of %d keys failed: %v", len(batch), err)
	}

	ts := started
	if res != nil && !res.Timestamp.IsZero() {
		ts = res.Timestamp
	}

	var zero V
	for _, key := range batch {
		if err != nil {
			c.resolve(key, zero, time.Time{}, err)
			continue
		}
		if v, ok := res.Values[key]; ok {
			c.put(key, v, ts)
			c.resolve(key, v, ts, nil)
			continue
		}
		kerr := res.Errors[key]
		if kerr == nil {
			kerr = ErrNotFound
		}
		c.resolve(key, zero, time.Time{}, kerr)
	}

	// the remote may return more than it was asked for
	if res != nil {
		for key, v := range res.Values {
			if !lo.Contains(batch, key) {
				c.put(key, v, ts)
			}
		}
	}
}

func (c *Cache[K, V]) fetch(batch []K) (res *FetchResult[K, V], err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("objectcache: fetcher panic: %v", r)
		}
	}()

	res, err = c.fetcher.Fetch(c.ctx, batch)
	if err == nil && res == nil {
		res = &FetchResult[K, V]{}
	}
	return res, err
}

// put writes a value through to the store and memory unless a newer one
// is already held.
func (c *Cache[K, V]) put(key K, v V, ts time.Time) {
	mu := c.stripe(key)
	mu.Lock()
	if cur := c.mem.Peek(key); cur != nil && cur.Timestamp.After(ts) {
		mu.Unlock()
		return
	}

	tv := Timestamped[V]{Value: v, Timestamp: ts}
	if data, err := c.opts.codec.Marshal(tv); err != nil {
		c.log.Warnf("encode %v failed: %v", key, err)
	} else if err := c.kv.Set(c.ctx, c.storeKey(key), data); err != nil {
		c.log.Warnf("persist %v failed: %v", key, err)
	}
	c.mem.Set(key, tv)
	mu.Unlock()

	c.emit(key, tv)
}

// resolve answers every waiter of key and requeues late ones.
func (c *Cache[K, V]) resolve(key K, v V, ts time.Time, err error) {
	c.mu.Lock()
	p := c.pending[key]
	delete(c.pending, key)

	var dropped []waiter[V]
	if p != nil && len(p.late) > 0 {
		if c.closed {
			dropped = p.late
		} else {
			c.pending[key] = &pending[V]{waiters: p.late}
			c.queue = append(c.queue, key)
			c.startDispatch()
		}
	}
	c.mu.Unlock()

	if p != nil {
		for _, w := range p.waiters {
			w.cb(v, ts, err)
		}
	}
	var zero V
	for _, w := range dropped {
		w.cb(zero, time.Time{}, ErrClosed)
	}
}

// Offer stores values obtained elsewhere, such as a listing that embeds
// them, and answers pending requests they satisfy.
func (c *Cache[K, V]) Offer(values map[K]V, ts time.Time) {
	for key, v := range values {
		c.put(key, v, ts)
		_metricLookups.WithLabelValues(c.opts.name, outcomeOffered).Inc()

		ready := c.takeSatisfied(key, ts)
		for _, w := range ready {
			w.cb(v, ts, nil)
		}
	}
}

func (c *Cache[K, V]) takeSatisfied(key K, ts time.Time) []waiter[V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[key]
	if !ok {
		return nil
	}

	now := c.opts.now()
	var ready []waiter[V]
	split := func(ws []waiter[V]) []waiter[V] {
		var keep []waiter[V]
		for _, w := range ws {
			if w.bound.Satisfied(ts, now) {
				ready = append(ready, w)
			} else {
				keep = append(keep, w)
			}
		}
		return keep
	}
	p.waiters = split(p.waiters)
	p.late = split(p.late)

	if !p.inflight && len(p.waiters) == 0 {
		delete(c.pending, key)
		c.queue = lo.Without(c.queue, key)
	}
	return ready
}

// Subscribe calls fn for every fresher version of key stored from now on.
// The returned func removes the subscription.
func (c *Cache[K, V]) Subscribe(key K, fn Listener[V]) func() {
	c.mu.Lock()
	sig, ok := c.subs[key]
	if !ok {
		sig = signals.New[Timestamped[V]]()
		c.subs[key] = sig
	}
	c.subSeq++
	id := strconv.FormatUint(c.subSeq, 10)
	sig.AddListener(func(_ context.Context, tv Timestamped[V]) {
		fn(tv.Value, tv.Timestamp)
	}, id)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			sig.RemoveListener(id)
			if sig.IsEmpty() && c.subs[key] == sig {
				delete(c.subs, key)
			}
		})
	}
}

func (c *Cache[K, V]) emit(key K, tv Timestamped[V]) {
	c.mu.Lock()
	sig := c.subs[key]
	c.mu.Unlock()

	if sig != nil {
		sig.Emit(context.Background(), tv)
	}
}

// Peek returns the value held in memory for key, if any, without a lookup
// in the backing store.
func (c *Cache[K, V]) Peek(key K) (Timestamped[V], bool) {
	if v := c.mem.Peek(key); v != nil {
		return *v, true
	}
	return Timestamped[V]{}, false
}

// Len returns the number of values held in memory.
func (c *Cache[K, V]) Len() int {
	return c.mem.Len()
}

// Close stops refreshing and fails every pending request with ErrClosed.
// The backing store is owned by the caller and stays open.
func (c *Cache[K, V]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	queued := make([]*pending[V], 0, len(c.queue))
	for _, key := range c.queue {
		queued = append(queued, c.pending[key])
		delete(c.pending, key)
	}
	c.queue = nil
	c.mu.Unlock()

	var zero V
	for _, p := range queued {
		for _, w := range p.waiters {
			w.cb(zero, time.Time{}, ErrClosed)
		}
	}

	c.cancel()
	c.wg.Wait()

	// refreshes that observed the cancellation have resolved their keys
	c.mu.Lock()
	rest := lo.Values(c.pending)
	c.pending = make(map[K]*pending[V])
	c.mu.Unlock()
	for _, p := range rest {
		for _, w := range append(p.waiters, p.late...) {
			w.cb(zero, time.Time{}, ErrClosed)
		}
	}
	return nil
}
