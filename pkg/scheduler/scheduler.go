package scheduler

import (
	"container/heap"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/omalloc/trove/contrib/log"
)

var (
	ErrClosed = errors.New("scheduler: pool closed")
	ErrQueued = errors.New("scheduler: task already queued")
)

// Task is a unit of work. Implementations must be comparable, normally a
// pointer, since the pool tracks queued tasks by identity.
type Task interface {
	// Priority orders queued tasks; lower runs first.
	Priority() int
	Run()
}

// Pool runs tasks on a fixed number of workers, lowest priority value
// first and FIFO among equals.
type Pool struct {
	name    string
	workers int
	log     *log.Helper

	mu      sync.Mutex
	cond    *sync.Cond
	q       taskQueue
	queued  map[Task]*item
	seq     uint64
	running int
	closed  bool
	wg      sync.WaitGroup
}

// New starts a pool of workers goroutines. workers below one means one.
func New(name string, workers int, logger log.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		name:    name,
		workers: workers,
		log:     log.NewHelper(log.With(logger, "pool", name)),
		queued:  make(map[Task]*item),
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

func (p *Pool) Name() string { return p.name }

func (p *Pool) Workers() int { return p.workers }

// Submit enqueues t. The priority is read once, here.
func (p *Pool) Submit(t Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if _, ok := p.queued[t]; ok {
		return ErrQueued
	}

	p.seq++
	it := &item{task: t, priority: t.Priority(), seq: p.seq}
	heap.Push(&p.q, it)
	p.queued[t] = it
	_metricQueueDepth.WithLabelValues(p.name).Set(float64(len(p.q)))

	p.cond.Signal()
	return nil
}

// Remove drops t if it has not started yet.
func (p *Pool) Remove(t Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	it, ok := p.queued[t]
	if !ok {
		return false
	}
	heap.Remove(&p.q, it.index)
	delete(p.queued, t)
	_metricQueueDepth.WithLabelValues(p.name).Set(float64(len(p.q)))
	return true
}

// Len is the number of queued, not yet started tasks.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.q)
}

// Running is the number of tasks currently executing.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Close stops accepting tasks, drops the queued ones and waits for running
// tasks to return. The dropped tasks are returned so owners can fail them.
func (p *Pool) Close() []Task {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	dropped := make([]Task, 0, len(p.q))
	for len(p.q) > 0 {
		it := heap.Pop(&p.q).(*item)
		dropped = append(dropped, it.task)
	}
	clear(p.queued)
	_metricQueueDepth.WithLabelValues(p.name).Set(0)

	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
	if len(dropped) > 0 {
		p.log.Infof("closed with %d queued tasks dropped", len(dropped))
	}
	return dropped
}

func (p *Pool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.q) == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return nil, false
	}

	it := heap.Pop(&p.q).(*item)
	delete(p.queued, it.task)
	p.running++
	_metricQueueDepth.WithLabelValues(p.name).Set(float64(len(p.q)))
	_metricRunning.WithLabelValues(p.name).Set(float64(p.running))
	return it.task, true
}

func (p *Pool) done() {
	p.mu.Lock()
	p.running--
	_metricRunning.WithLabelValues(p.name).Set(float64(p.running))
	p.mu.Unlock()
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		t, ok := p.next()
		if !ok {
			return
		}
		p.run(t)
	}
}

func (p *Pool) run(t Task) {
	defer p.done()
	defer func() {
		if r := recover(); r != nil {
			_metricTasksTotal.WithLabelValues(p.name, "panic").Inc()
			p.log.Errorf("task %T panicked: %v\n%s", t, r, debug.Stack())
		}
	}()
	t.Run()
	_metricTasksTotal.WithLabelValues(p.name, "done").Inc()
}

func (p *Pool) String() string {
	return fmt.Sprintf("pool(%s, workers=%d)", p.name, p.workers)
}
