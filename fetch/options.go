package fetch

import (
	"context"
	"maps"
	"time"

	fetchv1 "github.com/omalloc/trove/api/defined/v1/fetch"
	storagev1 "github.com/omalloc/trove/api/defined/v1/storage"
	"github.com/omalloc/trove/conf"
	"github.com/omalloc/trove/contrib/log"
	"github.com/omalloc/trove/fetch/auth"
	"github.com/omalloc/trove/pkg/compress"
)

const defaultChunkSize = 64 * 1024

// HeaderSource returns headers retrieved at request time, such as a
// third-party API token.
type HeaderSource func(ctx context.Context) (map[string]string, error)

type Option func(*options)

type options struct {
	transport   fetchv1.Transport
	store       storagev1.Store
	credentials *auth.Credentials
	pools       map[string]int
	table       *compress.Table
	config      *conf.Fetch
	logger      log.Logger
	headers     map[fetchv1.Queue]HeaderSource
	anonymizing func() bool
	now         func() time.Time
}

func WithTransport(t fetchv1.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithStore enables serving from and writing to the persistent cache.
func WithStore(s storagev1.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

func WithCredentials(c *auth.Credentials) Option {
	return func(o *options) {
		o.credentials = c
	}
}

// WithPools sets the worker count of each queue classification. The
// `default` pool runs every classification without its own pool.
func WithPools(pools map[string]int) Option {
	return func(o *options) {
		o.pools = pools
	}
}

func WithCompression(t *compress.Table) Option {
	return func(o *options) {
		o.table = t
	}
}

func WithConfig(c *conf.Fetch) Option {
	return func(o *options) {
		o.config = c
	}
}

func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithHeaderSource attaches dynamically retrieved headers to every
// request of queue.
func WithHeaderSource(queue fetchv1.Queue, fn HeaderSource) Option {
	return func(o *options) {
		if o.headers == nil {
			o.headers = make(map[fetchv1.Queue]HeaderSource)
		}
		o.headers[queue] = fn
	}
}

// WithAnonymizingNetwork reports whether traffic goes through an
// anonymizing network. It overrides the static config flag.
func WithAnonymizingNetwork(fn func() bool) Option {
	return func(o *options) {
		o.anonymizing = fn
	}
}

func withClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func (o *options) fill() {
	if o.logger == nil {
		o.logger = log.GetLogger()
	}
	if o.config == nil {
		o.config = &conf.Fetch{}
	}
	if o.config.ChunkSize <= 0 {
		o.config.ChunkSize = defaultChunkSize
	}
	o.pools = maps.Clone(o.pools)
	if o.pools == nil {
		o.pools = map[string]int{string(fetchv1.QueueDefault): 4}
	}
	if _, ok := o.pools[string(fetchv1.QueueDefault)]; !ok {
		o.pools[string(fetchv1.QueueDefault)] = 1
	}
	if o.table == nil {
		o.table = compress.MustDefaultTable(o.logger)
	}
	if o.anonymizing == nil {
		enabled := o.config.AnonymizingNetwork
		o.anonymizing = func() bool { return enabled }
	}
	if o.now == nil {
		o.now = time.Now
	}
}
