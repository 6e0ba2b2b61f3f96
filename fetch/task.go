package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/paulbellamy/ratecounter"

	"github.com/omalloc/trove/api/defined/v1/event"
	fetchv1 "github.com/omalloc/trove/api/defined/v1/fetch"
	storagev1 "github.com/omalloc/trove/api/defined/v1/storage"
	"github.com/omalloc/trove/api/defined/v1/storage/object"
	"github.com/omalloc/trove/conf"
	"github.com/omalloc/trove/contrib/log"
	"github.com/omalloc/trove/fetch/auth"
	"github.com/omalloc/trove/internal/constants"
	"github.com/omalloc/trove/pkg/iobuf"
	"github.com/omalloc/trove/pkg/scheduler"
)

// maxPrealloc caps the buffer preallocated from a declared length.
const maxPrealloc = 16 << 20

var _ scheduler.Task = (*task)(nil)

type task struct {
	engine *Engine
	req    *fetchv1.Request
	cb     fetchv1.Callbacks
	pool   *scheduler.Pool
	queue  conf.Queue
	log    *log.Helper

	ctx       context.Context
	ctxCancel context.CancelFunc

	state     atomic.Int32
	cancelled atomic.Bool

	// mu guards the fields below.
	mu      sync.Mutex
	session uuid.UUID
	tr      fetchv1.TransportRequest
	stream  *iobuf.MemoryStream
	entry   storagev1.Entry
	failure *fetchv1.Failure

	// notifyMu orders callbacks; no advisory notification starts after
	// the terminal state is claimed.
	notifyMu sync.Mutex
	progress chan Progress
	done     chan struct{}
}

func newTask(e *Engine, req *fetchv1.Request) *task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		engine:    e,
		req:       req,
		cb:        req.Callbacks,
		pool:      e.pool(req.Queue),
		ctx:       ctx,
		ctxCancel: cancel,
		progress:  make(chan Progress, 16),
		done:      make(chan struct{}),
	}
	if t.cb == nil {
		t.cb = fetchv1.NopCallbacks{}
	}
	if q, ok := e.opts.config.Queues[string(req.Queue)]; ok && q != nil {
		t.queue = *q
	}
	if req.Session != nil {
		t.session = *req.Session
	} else {
		t.session = uuid.New()
	}
	t.log = log.NewHelper(log.With(e.opts.logger, "module", "fetch", "session", t.session.String()))
	return t
}

func (t *task) Priority() int {
	return int(t.req.Priority)
}

func (t *task) State() State {
	return State(t.state.Load())
}

func (t *task) Session() uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

func (t *task) Failure() *fetchv1.Failure {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failure
}

func (t *task) Entry() storagev1.Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entry
}

func (t *task) Stream() fetchv1.StreamFactory {
	t.mu.Lock()
	stream := t.stream
	t.mu.Unlock()
	if stream == nil {
		return nil
	}
	return streamFactory(stream)
}

func streamFactory(s *iobuf.MemoryStream) fetchv1.StreamFactory {
	return func() (io.ReadCloser, error) {
		return s.NewReader(), nil
	}
}

// advance moves to a non-terminal state unless the task already ended.
func (t *task) advance(s State) bool {
	for {
		cur := State(t.state.Load())
		if cur.Terminal() {
			return false
		}
		if t.state.CompareAndSwap(int32(cur), int32(s)) {
			return true
		}
	}
}

// claim takes the terminal latch. Only the first caller wins.
func (t *task) claim(s State, failure *fetchv1.Failure) bool {
	for {
		cur := State(t.state.Load())
		if cur.Terminal() {
			return false
		}
		if t.state.CompareAndSwap(int32(cur), int32(s)) {
			break
		}
	}
	t.mu.Lock()
	t.failure = failure
	t.mu.Unlock()
	return true
}

// settle delivers the terminal notification of a claimed task and
// releases its request.
func (t *task) settle(outcome string, deliver func(cb fetchv1.Callbacks)) {
	t.notifyMu.Lock()
	if deliver != nil {
		deliver(t.cb)
	}
	close(t.progress)
	t.notifyMu.Unlock()

	t.ctxCancel()
	t.engine.detach(t)
	_metricResults.WithLabelValues(string(t.req.Queue), outcome).Inc()
	close(t.done)
}

// reject ends a task that never ran. No callback is invoked.
func (t *task) reject() {
	t.cancelled.Store(true)
	if t.claim(StateCancelled, fetchv1.NewFailure(fetchv1.KindCancelled, ErrAlreadyAttached, 0, t.req.Locator, nil)) {
		t.notifyMu.Lock()
		close(t.progress)
		t.notifyMu.Unlock()
		t.ctxCancel()
		close(t.done)
	}
}

// notify delivers an advisory notification while the task is live.
func (t *task) notify(fn func(cb fetchv1.Callbacks)) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	if t.State().Terminal() {
		return
	}
	fn(t.cb)
}

func (t *task) notifyProgress(indeterminate bool, read, total int64) {
	t.notify(func(cb fetchv1.Callbacks) {
		cb.OnProgress(indeterminate, read, total)
		select {
		case t.progress <- Progress{Indeterminate: indeterminate, BytesRead: read, TotalBytes: total}:
		default:
		}
	})
}

// fail ends the task with a failure of kind.
func (t *task) fail(kind fetchv1.Kind, cause error, status int, body *fetchv1.FailedBody) {
	failure := fetchv1.NewFailure(kind, cause, status, t.req.Locator, body)
	state, outcome := StateFailed, outcomeFailed
	if kind == fetchv1.KindCancelled {
		state, outcome = StateCancelled, outcomeCancelled
	}
	if !t.claim(state, failure) {
		return
	}
	_metricFailures.WithLabelValues(kind.String()).Inc()
	t.log.Warnf("fetch %s failed: %v", t.req.Locator, failure)
	t.settle(outcome, func(cb fetchv1.Callbacks) {
		cb.OnFailure(failure)
	})
}

// cancel aborts the task. The cancellation failure is delivered on its own
// goroutine so a callback may cancel its own fetch.
func (t *task) cancel() {
	if !t.cancelled.CompareAndSwap(false, true) {
		return
	}
	t.ctxCancel()
	removed := t.pool.Remove(t)

	t.mu.Lock()
	tr, stream := t.tr, t.stream
	t.mu.Unlock()
	if tr != nil {
		tr.Cancel()
	}
	if stream != nil {
		stream.SetCancelled()
	}

	failure := fetchv1.NewFailure(fetchv1.KindCancelled, ErrCancelled, 0, t.req.Locator, nil)
	if !t.claim(StateCancelled, failure) {
		return
	}
	_metricFailures.WithLabelValues(fetchv1.KindCancelled.String()).Inc()
	if t.log.Enabled(log.LevelDebug) {
		t.log.Debugf("fetch %s cancelled, queued=%t", t.req.Locator, removed)
	}
	go t.settle(outcomeCancelled, func(cb fetchv1.Callbacks) {
		cb.OnFailure(failure)
	})
}

func (t *task) isCancelled() bool {
	return t.cancelled.Load()
}

// Run executes the fetch on the calling worker.
func (t *task) Run() {
	defer func() {
		if r := recover(); r != nil {
			t.fail(fetchv1.KindConnection, fmt.Errorf("fetch panic: %v", r), 0, nil)
		}
	}()

	if t.isCancelled() || t.State().Terminal() {
		return
	}

	if t.req.Strategy.UsesCache() && t.serveCache() {
		return
	}

	ctx := t.ctx
	tr := t.engine.opts.transport.Prepare(ctx, t.req.Details())
	t.mu.Lock()
	t.tr = tr
	t.mu.Unlock()
	if t.isCancelled() {
		tr.Cancel()
		return
	}

	if t.queue.Auth {
		if !t.authenticate(ctx, tr) {
			return
		}
	}
	if !t.decorate(ctx, tr) {
		return
	}

	t.notify(func(cb fetchv1.Callbacks) {
		cb.OnDownloadStarted()
	})
	if !t.advance(StateHeadersSent) {
		return
	}

	resp, err := tr.Do()
	if err != nil {
		t.transportFailed(err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if t.isCancelled() {
		t.log.Infof("fetch %s cancelled before streaming", t.req.Locator)
		return
	}

	stream, ok := t.download(ctx, resp)
	if !ok {
		return
	}

	if !t.req.Cache {
		t.finishStream(stream, resp.MimeType)
		return
	}

	t.notify(func(cb fetchv1.Callbacks) {
		cb.OnDataStreamComplete(streamFactory(stream), t.engine.opts.now(), t.Session(), false, resp.MimeType)
	})
	t.persist(ctx, stream, resp.MimeType)
}

// serveCache answers from the store when the strategy allows it and
// reports whether the task ended.
func (t *task) serveCache() bool {
	store := t.engine.opts.store
	strategy := t.req.Strategy
	if store == nil {
		if strategy.Mode == fetchv1.DownloadNever {
			t.fail(fetchv1.KindCacheMiss, ErrNoStore, 0, nil)
			return true
		}
		return false
	}

	var (
		entry storagev1.Entry
		err   error
	)
	ns := t.req.Principal.Namespace()
	if t.req.Session != nil {
		entry, err = store.Lookup(t.ctx, object.Key{
			Locator:   t.req.Locator,
			Principal: ns,
			Category:  string(t.req.Category),
			Session:   *t.req.Session,
		})
	}
	if entry == nil {
		entry, err = store.LookupLatest(t.ctx, t.req.Locator, ns, string(t.req.Category))
	}
	if entry == nil {
		if strategy.Mode == fetchv1.DownloadNever {
			t.fail(fetchv1.KindCacheMiss, err, 0, nil)
			return true
		}
		return false
	}

	md := entry.Metadata()
	if strategy.Mode == fetchv1.DownloadIfOutsideBound && !strategy.Bound.Satisfied(md.CreatedAt(), t.engine.opts.now()) {
		if t.log.Enabled(log.LevelDebug) {
			t.log.Debugf("cached %s from %s fails %s, refetching", t.req.Locator, md.CreatedAt().Format(time.RFC3339), strategy.Bound)
		}
		return false
	}

	if !t.claim(StateComplete, nil) {
		return true
	}
	t.mu.Lock()
	t.session = md.Session
	t.entry = entry
	t.mu.Unlock()

	t.settle(outcomeCached, func(cb fetchv1.Callbacks) {
		ts := md.CreatedAt()
		cb.OnDataStreamComplete(entry.Open, ts, md.Session, true, md.MimeType)
		cb.OnCacheFileWritten(entry, ts, md.Session, true, md.MimeType)
	})
	return true
}

func (t *task) authenticate(ctx context.Context, tr fetchv1.TransportRequest) bool {
	t.advance(StateAuthenticating)

	creds := t.engine.opts.credentials
	if creds == nil {
		t.fail(fetchv1.KindAuth, auth.ErrNoSource, 0, nil)
		return false
	}

	principal := t.req.Principal
	if tok, ok := creds.Latest(principal); creds.ResetPending() || !ok || !tok.Valid(t.engine.opts.now()) {
		t.notifyProgress(true, 0, 0)
	}

	tok, fetched, err := creds.Token(ctx, principal)
	if err != nil {
		t.fail(fetchv1.KindAuth, err, 0, nil)
		return false
	}
	if fetched && t.log.Enabled(log.LevelDebug) {
		t.log.Debugf("fetched new token for %s", principal)
	}

	tr.AddHeader(constants.HeaderAuthorization, constants.BearerPrefix+tok.Value)
	return true
}

// decorate adds the static and dynamic headers of the request's queue.
func (t *task) decorate(ctx context.Context, tr fetchv1.TransportRequest) bool {
	if ua := t.engine.opts.config.UserAgent; ua != "" {
		tr.AddHeader(constants.HeaderUserAgent, ua)
	}
	for name, value := range t.queue.Headers {
		tr.AddHeader(name, value)
	}

	source, ok := t.engine.opts.headers[t.req.Queue]
	if !ok {
		return true
	}
	headers, err := source(ctx)
	if err != nil {
		t.fail(fetchv1.KindAuth, fmt.Errorf("retrieve %s headers: %w", t.req.Queue, err), 0, nil)
		return false
	}
	for name, value := range headers {
		tr.AddHeader(name, value)
	}
	return true
}

func (t *task) transportFailed(err error) {
	var (
		kind   = fetchv1.KindConnection
		cause  = err
		status int
		body   *fetchv1.FailedBody
	)
	var te *fetchv1.TransportError
	if errors.As(err, &te) {
		kind, cause, status, body = te.Kind, te.Cause, te.Status, te.Body
	}

	// an aborted request says nothing about the network
	if t.isCancelled() {
		return
	}

	if t.queue.Auth && t.engine.opts.anonymizing() {
		t.log.Warnf("authenticated fetch failed over anonymizing network, recreating transport")
		t.engine.opts.transport.Recreate()
		if creds := t.engine.opts.credentials; creds != nil {
			creds.ResetOnNextRequest()
		}
	}

	t.fail(kind, cause, status, body)
}

// download reads the response body into a memory stream in full chunks.
func (t *task) download(ctx context.Context, resp *fetchv1.Response) (*iobuf.MemoryStream, bool) {
	sizeHint := int(min(max(resp.ContentLength, 0), maxPrealloc))
	stream := iobuf.NewMemoryStream(sizeHint)

	t.mu.Lock()
	t.stream = stream
	t.mu.Unlock()
	if t.isCancelled() {
		stream.SetCancelled()
		return nil, false
	}

	t.advance(StateStreaming)
	t.notify(func(cb fetchv1.Callbacks) {
		cb.OnDataStreamAvailable(streamFactory(stream), t.engine.opts.now(), t.Session(), false, resp.MimeType)
	})

	var body io.Reader = resp.Body
	if kbps := t.engine.opts.config.RateLimitKbps; kbps > 0 {
		body = iobuf.NewRateLimitReader(ctx, resp.Body, kbps)
	}

	var (
		buf     = make([]byte, t.engine.opts.config.ChunkSize)
		total   int64
		started = time.Now()
		rate    = ratecounter.NewRateCounter(time.Second)
		bytes   = _metricBytes.WithLabelValues(string(t.req.Category))
	)
	for {
		n, err := io.ReadFull(body, buf)
		if n > 0 {
			_, _ = stream.Write(buf[:n])
			total += int64(n)
			rate.Incr(int64(n))
			bytes.Add(float64(n))
			if resp.ContentLength >= 0 {
				t.notifyProgress(false, total, resp.ContentLength)
			}
		}

		if t.isCancelled() {
			t.log.Infof("fetch %s cancelled during read loop", t.req.Locator)
			stream.SetCancelled()
			return nil, false
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			stream.SetFailed(err)
			t.fail(fetchv1.KindConnection, err, 0, nil)
			return nil, false
		}
	}

	stream.SetComplete()
	if t.log.Enabled(log.LevelDebug) {
		t.log.Debugf("fetched %s %s in %s (%s/s)", t.req.Locator, humanize.IBytes(uint64(total)),
			time.Since(started).Truncate(time.Millisecond), humanize.IBytes(uint64(rate.Rate())))
	}
	return stream, true
}

// finishStream ends an uncached fetch with its stream complete
// notification as the terminal one.
func (t *task) finishStream(stream *iobuf.MemoryStream, mimeType string) {
	if !t.claim(StateComplete, nil) {
		return
	}
	t.settle(outcomeComplete, func(cb fetchv1.Callbacks) {
		cb.OnDataStreamComplete(streamFactory(stream), t.engine.opts.now(), t.Session(), false, mimeType)
	})
}

func (t *task) persist(ctx context.Context, stream *iobuf.MemoryStream, mimeType string) {
	if !t.advance(StatePersisting) {
		return
	}

	store := t.engine.opts.store
	if store == nil {
		t.fail(fetchv1.KindStorage, ErrNoStore, 0, nil)
		return
	}

	data, err := stream.Bytes(ctx)
	if err != nil {
		t.fail(fetchv1.KindStorage, err, 0, nil)
		return
	}

	codec := t.engine.opts.table.Select(string(t.req.Category))
	session := t.Session()
	key := object.Key{
		Locator:   t.req.Locator,
		Principal: t.req.Principal.Namespace(),
		Category:  string(t.req.Category),
		Session:   session,
	}

	draft, err := store.Open(ctx, key, mimeType, codec.Name())
	if err != nil {
		kind := fetchv1.KindStorage
		if !store.RootExists() {
			kind = fetchv1.KindCacheDirMissing
		}
		t.log.Errorf("open cache draft of %s failed: %v", t.req.Locator, err)
		t.fail(kind, err, 0, nil)
		return
	}

	if _, err := draft.Write(data); err != nil {
		_ = draft.Discard()
		t.fail(fetchv1.KindStorage, err, 0, nil)
		return
	}
	if t.isCancelled() {
		_ = draft.Discard()
		return
	}

	entry, err := draft.Commit()
	if err != nil {
		_ = draft.Discard()
		t.fail(fetchv1.KindStorage, err, 0, nil)
		return
	}

	md := entry.Metadata()
	t.engine.publish(ctx, event.CacheWritten{
		Locator:     md.Locator,
		Principal:   md.Principal,
		Category:    md.Category,
		Session:     md.Session,
		MimeType:    md.MimeType,
		Compression: string(md.Compression),
		Size:        md.Size,
		StoredSize:  md.StoredSize,
		Path:        entry.Path(),
		WrittenAt:   md.CreatedAt(),
	})

	if !t.claim(StateComplete, nil) {
		return
	}
	t.mu.Lock()
	t.entry = entry
	t.mu.Unlock()
	t.settle(outcomeComplete, func(cb fetchv1.Callbacks) {
		cb.OnCacheFileWritten(entry, md.CreatedAt(), session, false, mimeType)
	})
}
