package indexdb

import (
	"fmt"
	"strings"
	"sync"

	"github.com/omalloc/trove/api/defined/v1/storage"
	"github.com/omalloc/trove/contrib/log"
)

// TypeInMemory as a db path keeps the index in memory.
const TypeInMemory = ":memory:"

var defaultRegistry = NewRegistry()

type Registry struct {
	mu       sync.RWMutex
	registry map[string]storage.IndexDBFactory
}

func NewRegistry() *Registry {
	return &Registry{
		registry: make(map[string]storage.IndexDBFactory),
	}
}

func (r *Registry) Register(name string, factory storage.IndexDBFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registry[createTypedName(name)] = factory
}

func (r *Registry) Create(name string, option storage.Option) (storage.IndexDB, error) {
	r.mu.RLock()
	factory, ok := r.registry[createTypedName(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("db type %s not registered", name)
	}

	log.Debugf("creating indexdb %s in path %s", name, option.DBPath())
	return factory(option.DBPath(), option)
}

func Register(name string, factory storage.IndexDBFactory) {
	defaultRegistry.Register(name, factory)
}

func Create(name string, option storage.Option) (storage.IndexDB, error) {
	return defaultRegistry.Create(name, option)
}

func createTypedName(name string) string {
	return fmt.Sprintf("trove.indexdb.%s", strings.ToLower(name))
}
