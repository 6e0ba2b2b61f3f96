package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/omalloc/trove/api/defined/v1/storage/object"
)

var (
	// ErrKeyNotFound is returned when no committed entry exists for a key.
	ErrKeyNotFound = errors.New("storage: key not found")
	// ErrDraftClosed is returned when a draft is used after commit or discard.
	ErrDraftClosed = errors.New("storage: draft already closed")
	// ErrRootMissing is returned when the cache root directory does not exist.
	ErrRootMissing = errors.New("storage: cache root does not exist")
)

// Compression names the codec an entry was written with.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionZstd   Compression = "zstd"
	CompressionBrotli Compression = "brotli"
)

// Metadata is the committed record of a cache entry.
type Metadata struct {
	Locator     string      `json:"locator" cbor:"locator"`
	Principal   string      `json:"principal" cbor:"principal"`
	Category    string      `json:"category" cbor:"category"`
	Session     uuid.UUID   `json:"session" cbor:"session"`
	MimeType    string      `json:"mime_type" cbor:"mime_type"`
	Compression Compression `json:"compression" cbor:"compression"`
	Generation  uint32      `json:"generation" cbor:"generation"`
	Size        uint64      `json:"size" cbor:"size"`               // uncompressed bytes
	StoredSize  uint64      `json:"stored_size" cbor:"stored_size"` // bytes on disk
	CreatedUnix int64       `json:"created_unix" cbor:"created_unix"`
}

// CreatedAt returns the commit time of the entry.
func (m *Metadata) CreatedAt() time.Time {
	return time.Unix(0, m.CreatedUnix)
}

// ID returns the content address of the entry.
func (m *Metadata) ID() *object.ID {
	return object.NewID(m.Key())
}

// Key rebuilds the entry key of m.
func (m *Metadata) Key() object.Key {
	return object.Key{
		Locator:   m.Locator,
		Principal: m.Principal,
		Category:  m.Category,
		Session:   m.Session,
	}
}

// Clone returns a shallow copy of m.
func (m *Metadata) Clone() *Metadata {
	out := *m
	return &out
}

// Entry is a committed, immutable cache entry.
type Entry interface {
	// Metadata returns the committed record.
	Metadata() *Metadata
	// Open returns a reader over the uncompressed content.
	Open() (io.ReadCloser, error)
	// Path returns the location of the stored bytes.
	Path() string
}

// Draft is an uncommitted cache write. Its content becomes visible to
// readers only after Commit returns.
type Draft interface {
	io.Writer
	// Commit finishes the write and publishes the entry atomically.
	Commit() (Entry, error)
	// Discard drops the draft; it is never visible. Safe after Commit.
	Discard() error
}

// Usage reports capacity of the volume holding the cache root.
type Usage struct {
	TotalBytes uint64
	UsedBytes  uint64
	AvailBytes uint64
}

// Store is the persistent, content-addressed cache.
type Store interface {
	io.Closer

	// Open starts a new draft for key written with the given codec.
	Open(ctx context.Context, key object.Key, mimeType string, codec Compression) (Draft, error)
	// Lookup returns the committed entry for the exact key (session included).
	Lookup(ctx context.Context, key object.Key) (Entry, error)
	// LookupLatest returns the most recently committed entry for the
	// locator regardless of session.
	LookupLatest(ctx context.Context, locator, principal, category string) (Entry, error)
	// Remove deletes a committed entry.
	Remove(ctx context.Context, key object.Key) error
	// Prune removes every entry older than maxAge and returns the count.
	Prune(ctx context.Context, maxAge time.Duration) (int, error)
	// Root returns the cache root directory.
	Root() string
	// RootExists reports whether the cache root is present.
	RootExists() bool
	// Usage reports volume usage of the cache root.
	Usage() (Usage, error)
}
