package objectcache

import (
	"fmt"
	"time"

	"github.com/omalloc/trove/contrib/log"
	"github.com/omalloc/trove/pkg/encoding"
)

type Option func(*options)

type options struct {
	name     string
	codec    encoding.Codec
	keyFunc  func(key any) string
	capacity int
	grace    time.Duration
	maxBatch int
	workers  int
	logger   log.Logger
	now      func() time.Time
}

// WithName names the cache in its backing keys, metrics and logs. Caches
// sharing one KV store need distinct names.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithCodec sets the codec of persisted values.
func WithCodec(c encoding.Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithKeyFunc sets how keys are rendered in the backing store. The
// default is fmt.Sprint.
func WithKeyFunc(fn func(key any) string) Option {
	return func(o *options) {
		o.keyFunc = fn
	}
}

// WithCapacity bounds the number of values held in memory.
func WithCapacity(n int) Option {
	return func(o *options) {
		o.capacity = n
	}
}

// WithGracePeriod keeps idle values in memory for d after their last use.
func WithGracePeriod(d time.Duration) Option {
	return func(o *options) {
		o.grace = d
	}
}

// WithMaxBatch caps the keys of one remote fetch.
func WithMaxBatch(n int) Option {
	return func(o *options) {
		o.maxBatch = n
	}
}

// WithWorkers bounds concurrent remote fetches.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func (o *options) fill() {
	if o.name == "" {
		o.name = "default"
	}
	if o.codec == nil {
		o.codec = encoding.GetDefaultCodec()
	}
	if o.keyFunc == nil {
		o.keyFunc = func(key any) string { return fmt.Sprint(key) }
	}
	if o.capacity <= 0 {
		o.capacity = 1024
	}
	if o.grace <= 0 {
		o.grace = 5 * time.Minute
	}
	if o.maxBatch <= 0 {
		o.maxBatch = 25
	}
	if o.workers <= 0 {
		o.workers = 2
	}
	if o.logger == nil {
		o.logger = log.GetLogger()
	}
	if o.now == nil {
		o.now = time.Now
	}
}
