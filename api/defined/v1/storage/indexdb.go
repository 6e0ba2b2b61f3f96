package storage

import (
	"context"
	"io"

	"github.com/omalloc/trove/pkg/encoding"
)

// IterateFunc is called for each metadata record; returning false stops.
type IterateFunc func(key []byte, val *Metadata) bool

// IndexDB persists entry metadata.
type IndexDB interface {
	io.Closer

	Get(ctx context.Context, key []byte) (*Metadata, error)
	Set(ctx context.Context, key []byte, val *Metadata) error
	Exist(ctx context.Context, key []byte) bool
	Delete(ctx context.Context, key []byte) error
	Iterate(ctx context.Context, prefix []byte, f IterateFunc) error
	GC(ctx context.Context) error
}

// Option configures an IndexDB driver.
type Option interface {
	DBPath() string
	Codec() encoding.Codec
	// Unmarshal decodes driver specific `db_config` into v.
	Unmarshal(v any) error
}

// IndexDBFactory creates an IndexDB.
type IndexDBFactory func(path string, option Option) (IndexDB, error)

// SharedKV is a small byte KV used for counters and typed object payloads.
type SharedKV interface {
	io.Closer

	Get(ctx context.Context, key []byte) ([]byte, error)
	Set(ctx context.Context, key []byte, val []byte) error
	Delete(ctx context.Context, key []byte) error
	Incr(ctx context.Context, key []byte, delta uint32) (uint32, error)
	GetCounter(ctx context.Context, key []byte) (uint32, error)
	DropPrefix(ctx context.Context, prefix []byte) error
	IteratePrefix(ctx context.Context, prefix []byte, f func(key, val []byte) error) error
}
