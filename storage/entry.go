package storage

import (
	"errors"
	"io"

	storagev1 "github.com/omalloc/trove/api/defined/v1/storage"
	"github.com/omalloc/trove/pkg/compress"
	"github.com/omalloc/trove/storage/bucket/disk"
)

var _ storagev1.Entry = (*entry)(nil)

type entry struct {
	bucket *disk.Bucket
	md     *storagev1.Metadata
	path   string
}

func (e *entry) Metadata() *storagev1.Metadata {
	return e.md.Clone()
}

func (e *entry) Path() string {
	return e.path
}

// Open returns the uncompressed content of the entry.
func (e *entry) Open() (io.ReadCloser, error) {
	codec, err := compress.Lookup(e.md.Compression)
	if err != nil {
		return nil, err
	}
	f, err := e.bucket.Open(e.path)
	if err != nil {
		return nil, err
	}
	r, err := codec.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &entryReader{ReadCloser: r, file: f}, nil
}

type entryReader struct {
	io.ReadCloser
	file io.Closer
}

func (r *entryReader) Close() error {
	return errors.Join(r.ReadCloser.Close(), r.file.Close())
}
