package nutsdb

import (
	"bytes"
	"context"
	"errors"

	"github.com/nutsdb/nutsdb"

	"github.com/omalloc/trove/api/defined/v1/storage"
	"github.com/omalloc/trove/pkg/encoding"
	"github.com/omalloc/trove/storage/indexdb"
)

var _ storage.IndexDB = (*NutsDB)(nil)

type dbOptions struct {
	Bucket      string `yaml:"bucket"`
	SegmentSize int64  `yaml:"segment_size"`
	SyncEnable  bool   `yaml:"sync_enable"`
}

type NutsDB struct {
	codec  encoding.Codec
	db     *nutsdb.DB
	bucket string
}

func init() {
	indexdb.Register("nutsdb", NewNutsDB)
}

func NewNutsDB(path string, option storage.Option) (storage.IndexDB, error) {
	opts := dbOptions{Bucket: "meta"}
	if err := option.Unmarshal(&opts); err != nil {
		return nil, err
	}
	if path == indexdb.TypeInMemory {
		return nil, errors.New("nutsdb: in-memory index is not supported, use pebble")
	}

	nopts := []nutsdb.Option{
		nutsdb.WithDir(path),
		nutsdb.WithSyncEnable(opts.SyncEnable),
	}
	if opts.SegmentSize > 0 {
		nopts = append(nopts, nutsdb.WithSegmentSize(opts.SegmentSize))
	}

	db, err := nutsdb.Open(nutsdb.DefaultOptions, nopts...)
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *nutsdb.Tx) error {
		if tx.ExistBucket(nutsdb.DataStructureBTree, opts.Bucket) {
			return nil
		}
		return tx.NewBucket(nutsdb.DataStructureBTree, opts.Bucket)
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	n := &NutsDB{
		codec:  option.Codec(),
		db:     db,
		bucket: opts.Bucket,
	}
	return n, nil
}

// Close implements [storage.IndexDB].
func (n *NutsDB) Close() error {
	return n.db.Close()
}

// Delete implements [storage.IndexDB].
func (n *NutsDB) Delete(_ context.Context, key []byte) error {
	err := n.db.Update(func(tx *nutsdb.Tx) error {
		return tx.Delete(n.bucket, key)
	})
	if errors.Is(err, nutsdb.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Exist implements [storage.IndexDB].
func (n *NutsDB) Exist(_ context.Context, key []byte) bool {
	var ret bool
	if err := n.db.View(func(tx *nutsdb.Tx) error {
		v, err := tx.Get(n.bucket, key)
		if err != nil {
			return err
		}
		ret = v != nil
		return nil
	}); err != nil {
		return false
	}
	return ret
}

// GC implements [storage.IndexDB].
func (n *NutsDB) GC(_ context.Context) error {
	if err := n.db.Merge(); err != nil && !errors.Is(err, nutsdb.ErrDontNeedMerge) {
		return err
	}
	return nil
}

// Get implements [storage.IndexDB].
func (n *NutsDB) Get(_ context.Context, key []byte) (*storage.Metadata, error) {
	meta := &storage.Metadata{}
	if err := n.db.View(func(tx *nutsdb.Tx) error {
		v, err := tx.Get(n.bucket, key)
		if err != nil {
			return err
		}
		return n.codec.Unmarshal(v, meta)
	}); err != nil {
		if errors.Is(err, nutsdb.ErrKeyNotFound) {
			return nil, storage.ErrKeyNotFound
		}
		return nil, err
	}
	return meta, nil
}

// Iterate implements [storage.IndexDB].
func (n *NutsDB) Iterate(ctx context.Context, prefix []byte, f storage.IterateFunc) error {
	return n.db.View(func(tx *nutsdb.Tx) error {
		iterator := nutsdb.NewIterator(tx, n.bucket, nutsdb.IteratorOptions{Reverse: false})
		if iterator == nil {
			return nil
		}
		defer iterator.Release()

		if len(prefix) == 0 {
			iterator.Rewind()
		} else {
			iterator.Seek(prefix)
		}

		for ; iterator.Valid(); iterator.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := iterator.Key()
			if !bytes.HasPrefix(key, prefix) {
				return nil
			}
			buf, err := iterator.Value()
			if err != nil {
				continue
			}
			meta := &storage.Metadata{}
			if err := n.codec.Unmarshal(buf, meta); err != nil {
				continue
			}
			if !f(key, meta) {
				return nil
			}
		}
		return nil
	})
}

// Set implements [storage.IndexDB].
func (n *NutsDB) Set(_ context.Context, key []byte, val *storage.Metadata) error {
	buf, err := n.codec.Marshal(val)
	if err != nil {
		return err
	}
	return n.db.Update(func(tx *nutsdb.Tx) error {
		return tx.Put(n.bucket, key, buf, nutsdb.Persistent)
	})
}
