// Package fetch schedules, authenticates, streams and persists network
// fetches.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/omalloc/trove/api/defined/v1/event"
	fetchv1 "github.com/omalloc/trove/api/defined/v1/fetch"
	"github.com/omalloc/trove/contrib/log"
	"github.com/omalloc/trove/pkg/scheduler"
)

var (
	// ErrAlreadyAttached rejects a request that still has an unfinished fetch.
	ErrAlreadyAttached = errors.New("fetch: request already has an attached task")
	ErrEngineClosed    = errors.New("fetch: engine closed")
	ErrCancelled       = errors.New("fetch: cancelled")
	ErrNoStore         = errors.New("fetch: no cache store configured")
)

// Engine runs fetches on per-queue priority pools.
type Engine struct {
	opts    options
	log     *log.Helper
	pools   map[string]*scheduler.Pool
	publish func(ctx context.Context, payload event.CacheWritten)

	closed atomic.Bool

	mu       sync.Mutex
	attached map[*fetchv1.Request]*task
}

func New(opts ...Option) (*Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.transport == nil {
		return nil, errors.New("fetch: transport is required")
	}
	o.fill()

	e := &Engine{
		opts:     o,
		log:      log.NewHelper(log.With(o.logger, "module", "fetch")),
		pools:    make(map[string]*scheduler.Pool, len(o.pools)),
		publish:  event.NewPublish[event.CacheWritten](event.CacheWrittenTopic),
		attached: make(map[*fetchv1.Request]*task),
	}
	for name, workers := range o.pools {
		if workers <= 0 {
			return nil, fmt.Errorf("fetch: pool %q needs at least one worker", name)
		}
	}
	for name, workers := range o.pools {
		e.pools[name] = scheduler.New(name, workers, o.logger)
	}
	return e, nil
}

func (e *Engine) pool(queue fetchv1.Queue) *scheduler.Pool {
	if p, ok := e.pools[string(queue)]; ok {
		return p
	}
	return e.pools[string(fetchv1.QueueDefault)]
}

// Submit schedules req. A request with an unfinished fetch is rejected
// with ErrAlreadyAttached; the returned handle is then already cancelled
// and its callbacks are never invoked.
func (e *Engine) Submit(req *fetchv1.Request) (*Handle, error) {
	if req == nil {
		return nil, errors.New("fetch: nil request")
	}

	t := newTask(e, req)
	if e.closed.Load() {
		t.reject()
		return &Handle{t: t}, ErrEngineClosed
	}
	if !e.attach(req, t) {
		t.reject()
		_metricResults.WithLabelValues(string(req.Queue), outcomeRejected).Inc()
		return &Handle{t: t}, ErrAlreadyAttached
	}

	if err := t.pool.Submit(t); err != nil {
		e.detach(t)
		t.reject()
		return &Handle{t: t}, err
	}

	if e.log.Enabled(log.LevelDebug) {
		e.log.Debugf("submitted %s queue=%s priority=%d session=%s pool=%s", req.Locator, req.Queue, req.Priority, t.Session(), t.pool)
	}
	return &Handle{t: t}, nil
}

func (e *Engine) attach(req *fetchv1.Request, t *task) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.attached[req]; ok {
		return false
	}
	e.attached[req] = t
	return true
}

func (e *Engine) detach(t *task) {
	e.mu.Lock()
	if e.attached[t.req] == t {
		delete(e.attached, t.req)
	}
	e.mu.Unlock()
}

// Attached reports whether req has an unfinished fetch.
func (e *Engine) Attached(req *fetchv1.Request) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.attached[req]
	return ok
}

// Close cancels every unfinished fetch and stops the pools.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.mu.Lock()
	pending := make([]*task, 0, len(e.attached))
	for _, t := range e.attached {
		pending = append(pending, t)
	}
	e.mu.Unlock()

	for _, t := range pending {
		t.cancel()
	}
	for _, p := range e.pools {
		for _, dropped := range p.Close() {
			if t, ok := dropped.(*task); ok {
				t.cancel()
			}
		}
	}
	e.log.Infof("fetch engine closed, %d fetches cancelled", len(pending))
	return nil
}
