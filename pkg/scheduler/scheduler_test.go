package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordTask struct {
	name     string
	priority int
	run      func()
	record   func(string)
}

func (t *recordTask) Priority() int { return t.priority }

func (t *recordTask) Run() {
	if t.record != nil {
		t.record(t.name)
	}
	if t.run != nil {
		t.run()
	}
}

type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	r.order = append(r.order, name)
	r.mu.Unlock()
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// block occupies every worker of p until the returned func is called.
func block(t *testing.T, p *Pool) func() {
	release := make(chan struct{})
	started := make(chan struct{}, p.Workers())
	for i := 0; i < p.Workers(); i++ {
		require.NoError(t, p.Submit(&recordTask{
			priority: -1 << 20,
			run: func() {
				started <- struct{}{}
				<-release
			},
		}))
	}
	for i := 0; i < p.Workers(); i++ {
		<-started
	}
	return func() { close(release) }
}

func TestPool_PriorityOrder(t *testing.T) {
	p := New("test", 1, nil)
	defer p.Close()

	rec := &recorder{}
	release := block(t, p)

	var wg sync.WaitGroup
	for _, tc := range []struct {
		name string
		prio int
	}{{"p5", 5}, {"p1", 1}, {"p3", 3}} {
		wg.Add(1)
		require.NoError(t, p.Submit(&recordTask{name: tc.name, priority: tc.prio, record: rec.add, run: wg.Done}))
	}
	assert.Equal(t, 3, p.Len())

	release()
	wg.Wait()
	assert.Equal(t, []string{"p1", "p3", "p5"}, rec.get())
}

func TestPool_FIFOWithinPriority(t *testing.T) {
	p := New("test", 1, nil)
	defer p.Close()

	rec := &recorder{}
	release := block(t, p)

	var wg sync.WaitGroup
	names := []string{"a", "b", "c", "d"}
	for _, n := range names {
		wg.Add(1)
		require.NoError(t, p.Submit(&recordTask{name: n, priority: 7, record: rec.add, run: wg.Done}))
	}

	release()
	wg.Wait()
	assert.Equal(t, names, rec.get())
}

func TestPool_RemoveBeforeStart(t *testing.T) {
	p := New("test", 1, nil)
	defer p.Close()

	rec := &recorder{}
	release := block(t, p)

	var wg sync.WaitGroup
	keep := &recordTask{name: "keep", record: rec.add, run: wg.Done}
	drop := &recordTask{name: "drop", record: rec.add}
	wg.Add(1)
	require.NoError(t, p.Submit(drop))
	require.NoError(t, p.Submit(keep))
	assert.ErrorIs(t, p.Submit(keep), ErrQueued)

	assert.True(t, p.Remove(drop))
	assert.False(t, p.Remove(drop))

	release()
	wg.Wait()
	assert.Equal(t, []string{"keep"}, rec.get())
	assert.False(t, p.Remove(keep))
}

func TestPool_BoundedConcurrency(t *testing.T) {
	const workers = 3
	p := New("test", workers, nil)
	defer p.Close()

	var cur, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(&recordTask{priority: i % 4, run: func() {
			defer wg.Done()
			n := cur.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			cur.Add(-1)
		}}))
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(workers))
	assert.Equal(t, 0, p.Running())
}

func TestPool_CloseDropsQueued(t *testing.T) {
	p := New("test", 1, nil)
	release := block(t, p)

	queued := &recordTask{name: "never"}
	require.NoError(t, p.Submit(queued))

	go func() {
		time.Sleep(10 * time.Millisecond)
		release()
	}()
	dropped := p.Close()
	require.Len(t, dropped, 1)
	assert.Same(t, queued, dropped[0])

	assert.ErrorIs(t, p.Submit(&recordTask{}), ErrClosed)
	assert.Nil(t, p.Close())
}

func TestPool_PanicKeepsWorker(t *testing.T) {
	p := New("test", 1, nil)
	defer p.Close()

	done := make(chan struct{})
	require.NoError(t, p.Submit(&recordTask{run: func() { panic("boom") }}))
	require.NoError(t, p.Submit(&recordTask{run: func() { close(done) }}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
}
