package iobuf

import (
	"errors"
	"io"
	"sync"
)

var ErrWriterDone = errors.New("iobuf: writer already committed or aborted")

// CommitWriter is a staged writer that either commits or aborts, once.
type CommitWriter interface {
	io.Writer
	// Close commits the written data.
	io.Closer
	// Abort throws the written data away.
	Abort() error
}

type chunkWriter struct {
	mu     sync.Mutex
	w      io.WriteCloser
	commit func() error
	abort  func() error
	done   bool
}

func (cw *chunkWriter) Write(p []byte) (n int, err error) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.done {
		return 0, ErrWriterDone
	}
	return cw.w.Write(p)
}

func (cw *chunkWriter) finish(next func() error) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.done {
		return ErrWriterDone
	}
	cw.done = true
	if err := cw.w.Close(); err != nil {
		if cw.abort != nil {
			_ = cw.abort()
		}
		return err
	}
	if next == nil {
		return nil
	}
	return next()
}

func (cw *chunkWriter) Close() error {
	return cw.finish(cw.commit)
}

func (cw *chunkWriter) Abort() error {
	return cw.finish(cw.abort)
}

// ChunkWriterCloser wraps w so that Close flushes w then runs commit, and
// Abort closes w then runs abort. A failing close of w always runs abort.
func ChunkWriterCloser(w io.WriteCloser, commit, abort func() error) CommitWriter {
	return &chunkWriter{
		w:      w,
		commit: commit,
		abort:  abort,
	}
}
