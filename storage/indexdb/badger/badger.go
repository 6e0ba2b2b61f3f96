package badger

import (
	"context"
	"errors"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/omalloc/trove/api/defined/v1/storage"
	"github.com/omalloc/trove/contrib/log"
	"github.com/omalloc/trove/pkg/encoding"
	"github.com/omalloc/trove/storage/indexdb"
)

var _ storage.IndexDB = (*BadgerDB)(nil)

type dbOptions struct {
	SyncWrites     bool    `yaml:"sync_writes"`
	GCDiscardRatio float64 `yaml:"gc_discard_ratio"`
}

type BadgerDB struct {
	codec        encoding.Codec
	db           *badgerdb.DB
	discardRatio float64
}

func init() {
	indexdb.Register("badger", NewBadgerDB)
}

// badgerLogger adapts a log helper to badger's Logger.
type badgerLogger struct {
	*log.Helper
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}

func NewBadgerDB(path string, option storage.Option) (storage.IndexDB, error) {
	opts := dbOptions{GCDiscardRatio: 0.5}
	if err := option.Unmarshal(&opts); err != nil {
		return nil, err
	}

	bopts := badgerdb.DefaultOptions(path).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(badgerLogger{indexdb.Logger(option)})
	if path == indexdb.TypeInMemory {
		bopts = bopts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badgerdb.Open(bopts)
	if err != nil {
		return nil, err
	}

	return &BadgerDB{
		codec:        option.Codec(),
		db:           db,
		discardRatio: opts.GCDiscardRatio,
	}, nil
}

// Close implements [storage.IndexDB].
func (b *BadgerDB) Close() error {
	return b.db.Close()
}

// Delete implements [storage.IndexDB].
func (b *BadgerDB) Delete(_ context.Context, key []byte) error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(key)
	})
}

// Exist implements [storage.IndexDB].
func (b *BadgerDB) Exist(_ context.Context, key []byte) bool {
	err := b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	return err == nil
}

// GC implements [storage.IndexDB].
func (b *BadgerDB) GC(_ context.Context) error {
	err := b.db.RunValueLogGC(b.discardRatio)
	if errors.Is(err, badgerdb.ErrNoRewrite) || errors.Is(err, badgerdb.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

// Get implements [storage.IndexDB].
func (b *BadgerDB) Get(_ context.Context, key []byte) (*storage.Metadata, error) {
	md := &storage.Metadata{}
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return b.codec.Unmarshal(val, md)
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, storage.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return md, nil
}

// Iterate implements [storage.IndexDB].
func (b *BadgerDB) Iterate(ctx context.Context, prefix []byte, f storage.IterateFunc) error {
	return b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			md := &storage.Metadata{}
			if err := item.Value(func(val []byte) error {
				return b.codec.Unmarshal(val, md)
			}); err != nil {
				continue
			}
			if !f(item.KeyCopy(nil), md) {
				return nil
			}
		}
		return nil
	})
}

// Set implements [storage.IndexDB].
func (b *BadgerDB) Set(_ context.Context, key []byte, val *storage.Metadata) error {
	buf, err := b.codec.Marshal(val)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(key, buf)
	})
}
