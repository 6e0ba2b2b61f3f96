package objectcache

import (
	"errors"
	"sync"

	fetchv1 "github.com/omalloc/trove/api/defined/v1/fetch"
)

const anonymousNamespace = "anonymous"

// Factory builds the cache of p. Fetchers it wires up must act on behalf
// of p.
type Factory[K comparable, V any] func(p fetchv1.Principal) (*Cache[K, V], error)

// Registry holds one cache per principal, so values fetched for one
// account are never served to another.
type Registry[K comparable, V any] struct {
	mu      sync.Mutex
	factory Factory[K, V]
	caches  map[string]*Cache[K, V]
}

func NewRegistry[K comparable, V any](factory Factory[K, V]) *Registry[K, V] {
	return &Registry[K, V]{
		factory: factory,
		caches:  make(map[string]*Cache[K, V]),
	}
}

// Namespace names the cache of p.
func Namespace(p fetchv1.Principal) string {
	if p.Anonymous {
		return anonymousNamespace
	}
	return p.Namespace()
}

// Get returns the cache of p, creating it on first use.
func (r *Registry[K, V]) Get(p fetchv1.Principal) (*Cache[K, V], error) {
	ns := Namespace(p)

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.caches[ns]; ok {
		return c, nil
	}
	c, err := r.factory(p)
	if err != nil {
		return nil, err
	}
	r.caches[ns] = c
	return c, nil
}

// Remove closes and forgets the cache of p, e.g. on logout.
func (r *Registry[K, V]) Remove(p fetchv1.Principal) error {
	ns := Namespace(p)

	r.mu.Lock()
	c, ok := r.caches[ns]
	delete(r.caches, ns)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return c.Close()
}

func (r *Registry[K, V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.caches)
}

// Close closes every cache.
func (r *Registry[K, V]) Close() error {
	r.mu.Lock()
	caches := r.caches
	r.caches = make(map[string]*Cache[K, V])
	r.mu.Unlock()

	var errs []error
	for _, c := range caches {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
