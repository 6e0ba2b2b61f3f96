package pebble

import (
	"context"
	"errors"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"

	"github.com/omalloc/trove/api/defined/v1/storage"
	"github.com/omalloc/trove/pkg/encoding"
	"github.com/omalloc/trove/storage/indexdb"
)

var _ storage.IndexDB = (*PebbleDB)(nil)

type dbOptions struct {
	// SkipErrRecord drops records that fail to decode during iteration
	// instead of aborting it.
	SkipErrRecord bool `yaml:"skip_err_record"`
	// Sync fsyncs every write.
	Sync bool `yaml:"sync"`
}

type PebbleDB struct {
	codec         encoding.Codec
	db            *pebble.DB
	skipErrRecord bool
	writeOpts     *pebble.WriteOptions
}

func init() {
	indexdb.Register("pebble", NewPebbleDB)
}

func NewPebbleDB(path string, option storage.Option) (storage.IndexDB, error) {
	opts := dbOptions{SkipErrRecord: true}
	if err := option.Unmarshal(&opts); err != nil {
		return nil, err
	}

	popts := &pebble.Options{
		Logger: indexdb.Logger(option),
	}
	if path == indexdb.TypeInMemory {
		popts.FS = vfs.NewMem()
		popts.DisableWAL = true
		path = ""
	}

	db, err := pebble.Open(path, popts)
	if err != nil {
		return nil, err
	}

	p := &PebbleDB{
		codec:         option.Codec(),
		db:            db,
		skipErrRecord: opts.SkipErrRecord,
		writeOpts:     pebble.NoSync,
	}
	if opts.Sync {
		p.writeOpts = pebble.Sync
	}
	return p, nil
}

// Close implements [storage.IndexDB].
func (p *PebbleDB) Close() error {
	return p.db.Close()
}

// Delete implements [storage.IndexDB].
func (p *PebbleDB) Delete(_ context.Context, key []byte) error {
	return p.db.Delete(key, p.writeOpts)
}

// Exist implements [storage.IndexDB].
func (p *PebbleDB) Exist(_ context.Context, key []byte) bool {
	_, closer, err := p.db.Get(key)
	if err != nil {
		return false
	}
	_ = closer.Close()
	return true
}

// GC implements [storage.IndexDB].
func (p *PebbleDB) GC(_ context.Context) error {
	return p.db.Flush()
}

// Get implements [storage.IndexDB].
func (p *PebbleDB) Get(_ context.Context, key []byte) (*storage.Metadata, error) {
	val, closer, err := p.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, storage.ErrKeyNotFound
		}
		return nil, err
	}
	defer func() { _ = closer.Close() }()

	md := &storage.Metadata{}
	if err := p.codec.Unmarshal(val, md); err != nil {
		return nil, err
	}
	return md, nil
}

// Iterate implements [storage.IndexDB].
func (p *PebbleDB) Iterate(ctx context.Context, prefix []byte, f storage.IterateFunc) error {
	iopts := &pebble.IterOptions{}
	if len(prefix) > 0 {
		iopts.LowerBound = prefix
		iopts.UpperBound = indexdb.UpperBound(prefix)
	}

	iter, err := p.db.NewIterWithContext(ctx, iopts)
	if err != nil {
		return err
	}
	defer func() { _ = iter.Close() }()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		md := &storage.Metadata{}
		if err := p.codec.Unmarshal(val, md); err != nil {
			if p.skipErrRecord {
				continue
			}
			return err
		}
		if !f(iter.Key(), md) {
			break
		}
	}
	return iter.Error()
}

// Set implements [storage.IndexDB].
func (p *PebbleDB) Set(_ context.Context, key []byte, val *storage.Metadata) error {
	buf, err := p.codec.Marshal(val)
	if err != nil {
		return err
	}
	return p.db.Set(key, buf, p.writeOpts)
}
