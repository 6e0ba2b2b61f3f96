package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"

	storagev1 "github.com/omalloc/trove/api/defined/v1/storage"
	"github.com/omalloc/trove/api/defined/v1/storage/object"
	"github.com/omalloc/trove/contrib/log"
	"github.com/omalloc/trove/pkg/compress"
	"github.com/omalloc/trove/pkg/iobuf"
	"github.com/omalloc/trove/storage/bucket/disk"
)

var ErrStoreClosed = errors.New("storage: store closed")

var _ storagev1.Store = (*nativeStore)(nil)

const lockStripes = 64

var (
	prefixEntry  = []byte("e/")
	prefixLatest = []byte("l/")
	prefixGen    = []byte("gen/")
)

type nativeStore struct {
	closed   atomic.Bool
	log      *log.Helper
	bucket   *disk.Bucket
	indexdb  storagev1.IndexDB
	sharedkv storagev1.SharedKV
	locks    [lockStripes]sync.Mutex
	now      func() time.Time
}

func newStore(bucket *disk.Bucket, db storagev1.IndexDB, kv storagev1.SharedKV, logger log.Logger) *nativeStore {
	return &nativeStore{
		log:      log.NewHelper(log.With(logger, "module", "storage")),
		bucket:   bucket,
		indexdb:  db,
		sharedkv: kv,
		now:      time.Now,
	}
}

func withPrefix(prefix []byte, id *object.ID) []byte {
	key := make([]byte, 0, len(prefix)+object.IdHashSize)
	key = append(key, prefix...)
	return append(key, id.Bytes()...)
}

// lock serializes commits and removals of one entry identity.
func (n *nativeStore) lock(id *object.ID) *sync.Mutex {
	return &n.locks[xxhash.Sum64(id.Bytes())%lockStripes]
}

// Open implements storagev1.Store.
func (n *nativeStore) Open(ctx context.Context, key object.Key, mimeType string, codecName storagev1.Compression) (storagev1.Draft, error) {
	if n.closed.Load() {
		return nil, ErrStoreClosed
	}

	codec, err := compress.Lookup(codecName)
	if err != nil {
		return nil, err
	}

	id := object.NewID(key)
	f, tmpPath, err := n.bucket.CreateTemp(id)
	if err != nil {
		return nil, err
	}

	d := &draft{
		ctx:     context.WithoutCancel(ctx),
		store:   n,
		id:      id,
		file:    f,
		tmpPath: tmpPath,
		counter: &countingWriter{w: f},
		md: &storagev1.Metadata{
			Locator:     key.Locator,
			Principal:   key.Principal,
			Category:    key.Category,
			Session:     key.Session,
			MimeType:    mimeType,
			Compression: codec.Name(),
		},
	}

	enc, err := codec.NewWriter(d.counter)
	if err != nil {
		d.abort()
		return nil, fmt.Errorf("open %s encoder: %w", codec.Name(), err)
	}
	d.w = iobuf.ChunkWriterCloser(enc, d.publish, d.abort)

	if log.Enabled(log.LevelDebug) {
		n.log.Debugf("draft opened %s codec=%s tmp=%s", id, codec.Name(), tmpPath)
	}
	return d, nil
}

// commit makes d visible. Called with the staged file synced and closed.
func (n *nativeStore) commit(ctx context.Context, d *draft) (*entry, error) {
	mu := n.lock(d.id)
	mu.Lock()
	defer mu.Unlock()

	latestID := object.NewLatestID(d.id.Key())
	gen, err := n.sharedkv.Incr(ctx, withPrefix(prefixGen, latestID), 1)
	if err != nil {
		return nil, fmt.Errorf("advance generation: %w", err)
	}

	wpath, err := n.bucket.Publish(d.tmpPath, d.id)
	if err != nil {
		return nil, err
	}

	md := d.md.Clone()
	md.Generation = gen
	md.Size = d.size
	md.StoredSize = d.counter.n
	md.CreatedUnix = n.now().UnixNano()

	if err := n.indexdb.Set(ctx, withPrefix(prefixEntry, d.id), md); err != nil {
		_ = n.bucket.Remove(wpath)
		return nil, fmt.Errorf("record metadata: %w", err)
	}
	if err := n.indexdb.Set(ctx, withPrefix(prefixLatest, latestID), md); err != nil {
		n.log.Warnf("update latest pointer of %s failed: %v", d.id, err)
	}

	return &entry{bucket: n.bucket, md: md, path: wpath}, nil
}

// Lookup implements storagev1.Store.
func (n *nativeStore) Lookup(ctx context.Context, key object.Key) (storagev1.Entry, error) {
	if n.closed.Load() {
		return nil, ErrStoreClosed
	}

	id := object.NewID(key)
	md, err := n.indexdb.Get(ctx, withPrefix(prefixEntry, id))
	if err != nil {
		_metricLookups.WithLabelValues("miss").Inc()
		return nil, err
	}
	_metricLookups.WithLabelValues("hit").Inc()
	return &entry{bucket: n.bucket, md: md, path: n.bucket.Path(id)}, nil
}

// LookupLatest implements storagev1.Store.
func (n *nativeStore) LookupLatest(ctx context.Context, locator, principal, category string) (storagev1.Entry, error) {
	if n.closed.Load() {
		return nil, ErrStoreClosed
	}

	latestID := object.NewID(object.Key{Locator: locator, Principal: principal, Category: category})
	md, err := n.indexdb.Get(ctx, withPrefix(prefixLatest, latestID))
	if err != nil {
		_metricLookups.WithLabelValues("miss").Inc()
		return nil, err
	}
	// the pointed entry may have been removed or pruned since
	return n.Lookup(ctx, md.Key())
}

// Remove implements storagev1.Store.
func (n *nativeStore) Remove(ctx context.Context, key object.Key) error {
	if n.closed.Load() {
		return ErrStoreClosed
	}

	id := object.NewID(key)
	mu := n.lock(id)
	mu.Lock()
	defer mu.Unlock()

	return n.remove(ctx, id)
}

// remove deletes an entry. Callers hold the entry lock.
func (n *nativeStore) remove(ctx context.Context, id *object.ID) error {
	ekey := withPrefix(prefixEntry, id)
	if _, err := n.indexdb.Get(ctx, ekey); err != nil {
		return err
	}

	// drop the record first so no reader picks up a vanishing file
	if err := n.indexdb.Delete(ctx, ekey); err != nil {
		return err
	}
	if err := n.bucket.Remove(n.bucket.Path(id)); err != nil {
		n.log.Warnf("remove body of %s failed: %v", id, err)
	}

	lkey := withPrefix(prefixLatest, object.NewLatestID(id.Key()))
	if latest, err := n.indexdb.Get(ctx, lkey); err == nil && latest.Session == id.Key().Session {
		_ = n.indexdb.Delete(ctx, lkey)
	}
	return nil
}

// Prune implements storagev1.Store.
func (n *nativeStore) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	if n.closed.Load() {
		return 0, ErrStoreClosed
	}

	cutoff := n.now().Add(-maxAge)
	var expired []*storagev1.Metadata
	if err := n.indexdb.Iterate(ctx, prefixEntry, func(_ []byte, md *storagev1.Metadata) bool {
		if md.CreatedAt().Before(cutoff) {
			expired = append(expired, md)
		}
		return true
	}); err != nil {
		return 0, err
	}

	var (
		pruned int
		freed  uint64
	)
	for _, md := range expired {
		if err := ctx.Err(); err != nil {
			return pruned, err
		}
		id := md.ID()
		mu := n.lock(id)
		mu.Lock()
		err := n.remove(ctx, id)
		mu.Unlock()
		if err != nil {
			if !errors.Is(err, storagev1.ErrKeyNotFound) {
				n.log.Warnf("prune %s failed: %v", id, err)
			}
			continue
		}
		pruned++
		freed += md.StoredSize
	}

	swept := n.bucket.Sweep(maxAge)
	_metricPruned.Add(float64(pruned))
	if pruned > 0 || swept > 0 {
		n.log.Infof("pruned %d entries (%s) and %d stale drafts older than %s", pruned, humanize.IBytes(freed), swept, maxAge)
	}
	if err := n.indexdb.GC(ctx); err != nil {
		n.log.Warnf("indexdb gc failed: %v", err)
	}
	return pruned, nil
}

// Root implements storagev1.Store.
func (n *nativeStore) Root() string {
	return n.bucket.Root()
}

// RootExists implements storagev1.Store.
func (n *nativeStore) RootExists() bool {
	return n.bucket.Exists()
}

// Usage implements storagev1.Store.
func (n *nativeStore) Usage() (storagev1.Usage, error) {
	if u, err := n.bucket.Usage(); err == nil && u.TotalBytes > 0 {
		return u, nil
	}

	// in-memory filesystems have no volume, count what we hold
	var u storagev1.Usage
	err := n.indexdb.Iterate(context.Background(), prefixEntry, func(_ []byte, md *storagev1.Metadata) bool {
		u.UsedBytes += md.StoredSize
		return true
	})
	return u, err
}

// Close implements storagev1.Store.
func (n *nativeStore) Close() error {
	if !n.closed.CompareAndSwap(false, true) {
		return nil
	}
	return errors.Join(n.indexdb.Close(), n.sharedkv.Close())
}
