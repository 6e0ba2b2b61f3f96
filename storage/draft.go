package storage

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/cockroachdb/pebble/v2/vfs"
	"github.com/dustin/go-humanize"

	storagev1 "github.com/omalloc/trove/api/defined/v1/storage"
	"github.com/omalloc/trove/api/defined/v1/storage/object"
	"github.com/omalloc/trove/contrib/log"
	"github.com/omalloc/trove/pkg/iobuf"
)

var _ storagev1.Draft = (*draft)(nil)

type countingWriter struct {
	w io.Writer
	n uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n)
	return n, err
}

type draft struct {
	ctx     context.Context
	store   *nativeStore
	id      *object.ID
	md      *storagev1.Metadata
	file    vfs.File
	tmpPath string
	counter *countingWriter
	w       iobuf.CommitWriter

	mu        sync.Mutex
	size      uint64
	fileOnce  sync.Once
	committed *entry
}

func (d *draft) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	if errors.Is(err, iobuf.ErrWriterDone) {
		return n, storagev1.ErrDraftClosed
	}
	d.mu.Lock()
	d.size += uint64(n)
	d.mu.Unlock()
	return n, err
}

func (d *draft) closeFile() error {
	var err error
	d.fileOnce.Do(func() {
		err = d.file.Close()
	})
	return err
}

// publish runs after the encoder flushed into the staged file.
func (d *draft) publish() error {
	if err := d.file.Sync(); err != nil {
		d.abort()
		return err
	}
	if err := d.closeFile(); err != nil {
		d.abort()
		return err
	}

	e, err := d.store.commit(d.ctx, d)
	if err != nil {
		_metricCommits.WithLabelValues(string(d.md.Compression), "error").Inc()
		_ = d.store.bucket.Remove(d.tmpPath)
		return err
	}

	d.mu.Lock()
	d.committed = e
	d.mu.Unlock()

	_metricCommits.WithLabelValues(string(d.md.Compression), "ok").Inc()
	_metricStoredBytes.WithLabelValues(d.md.Category).Add(float64(e.md.StoredSize))
	if log.Enabled(log.LevelDebug) {
		d.store.log.Debugf("committed %s gen=%d size=%s stored=%s", d.id, e.md.Generation,
			humanize.IBytes(e.md.Size), humanize.IBytes(e.md.StoredSize))
	}
	return nil
}

func (d *draft) abort() error {
	_ = d.closeFile()
	return d.store.bucket.Remove(d.tmpPath)
}

func (d *draft) Commit() (storagev1.Entry, error) {
	if err := d.w.Close(); err != nil {
		if errors.Is(err, iobuf.ErrWriterDone) {
			d.mu.Lock()
			defer d.mu.Unlock()
			if d.committed != nil {
				return d.committed, nil
			}
			return nil, storagev1.ErrDraftClosed
		}
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.committed, nil
}

func (d *draft) Discard() error {
	err := d.w.Abort()
	if errors.Is(err, iobuf.ErrWriterDone) {
		return nil
	}
	if err == nil {
		_metricCommits.WithLabelValues(string(d.md.Compression), "discarded").Inc()
	}
	return err
}
