package sharedkv

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/cockroachdb/pebble/v2"

	"github.com/omalloc/trove/api/defined/v1/storage"
	"github.com/omalloc/trove/storage/indexdb"
)

var _ storage.SharedKV = (*pebbleKV)(nil)

type pebbleKV struct {
	db *pebble.DB
	// counters are read-modify-write; pebble batches do not lock
	counterMu sync.Mutex
}

func (r *pebbleKV) Close() error {
	return r.db.Close()
}

func (r *pebbleKV) Get(_ context.Context, key []byte) ([]byte, error) {
	val, c, err := r.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, storage.ErrKeyNotFound
		}
		return nil, err
	}
	defer func() { _ = c.Close() }()

	return bytes.Clone(val), nil
}

func (r *pebbleKV) Set(_ context.Context, key []byte, val []byte) error {
	return r.db.Set(key, val, pebble.NoSync)
}

func (r *pebbleKV) Incr(_ context.Context, key []byte, delta uint32) (uint32, error) {
	r.counterMu.Lock()
	defer r.counterMu.Unlock()

	batch := r.db.NewIndexedBatch()
	defer func() { _ = batch.Close() }()

	var counter uint32
	val, closer, err := batch.Get(key)
	switch {
	case err == nil:
		if len(val) == 4 {
			counter = binary.BigEndian.Uint32(val)
		}
		_ = closer.Close()
	case !errors.Is(err, pebble.ErrNotFound):
		return 0, err
	}

	counter += delta

	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, counter)

	if err1 := batch.Set(key, buf, pebble.NoSync); err1 != nil {
		return 0, err1
	}

	if err1 := batch.Commit(pebble.NoSync); err1 != nil {
		return 0, err1
	}

	return counter, nil
}

func (r *pebbleKV) GetCounter(_ context.Context, key []byte) (uint32, error) {
	val, closer, err := r.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, storage.ErrKeyNotFound
		}
		return 0, err
	}
	defer func() { _ = closer.Close() }()

	if len(val) != 4 {
		return 0, errors.New("sharedkv: value is not a counter")
	}
	return binary.BigEndian.Uint32(val), nil
}

func (r *pebbleKV) Delete(_ context.Context, key []byte) error {
	return r.db.Delete(key, pebble.NoSync)
}

func (r *pebbleKV) DropPrefix(_ context.Context, prefix []byte) error {
	end := indexdb.UpperBound(prefix)
	if end == nil {
		return errors.New("sharedkv: prefix has no upper bound")
	}
	return r.db.DeleteRange(prefix, end, pebble.NoSync)
}

func (r *pebbleKV) IteratePrefix(ctx context.Context, prefix []byte, f func(key []byte, val []byte) error) error {
	iter, err := r.db.NewIterWithContext(ctx, &pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: indexdb.UpperBound(prefix),
	})
	if err != nil {
		return err
	}

	defer func() { _ = iter.Close() }()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err1 := iter.ValueAndErr()
		if err1 != nil {
			return err1
		}
		if err1 = f(iter.Key(), value); err1 != nil {
			return err1
		}
	}

	return iter.Error()
}

func newPebbleKV(storePath string, opts *pebble.Options) (storage.SharedKV, error) {
	db, err := pebble.Open(storePath, opts)
	if err != nil {
		return nil, err
	}

	return &pebbleKV{db: db}, nil
}
