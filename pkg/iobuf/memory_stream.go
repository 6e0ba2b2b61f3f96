package iobuf

import (
	"context"
	"errors"
	"io"
	"sync"
)

var (
	// ErrStreamCancelled is returned by readers of a cancelled stream.
	ErrStreamCancelled = errors.New("iobuf: stream cancelled")
	// ErrStreamClosed is returned when writing to a terminated stream.
	ErrStreamClosed = errors.New("iobuf: stream closed")
)

type StreamState uint8

const (
	StreamOpen StreamState = iota
	StreamComplete
	StreamFailed
	StreamCancelled
)

func (s StreamState) String() string {
	switch s {
	case StreamOpen:
		return "open"
	case StreamComplete:
		return "complete"
	case StreamFailed:
		return "failed"
	case StreamCancelled:
		return "cancelled"
	}
	return "unknown"
}

// MemoryStream is a growable buffer filled by one writer and read by any
// number of independent cursors. Readers block until more data arrives or
// the stream reaches a terminal state.
type MemoryStream struct {
	mu      sync.Mutex
	buf     []byte
	state   StreamState
	err     error
	changed chan struct{}
}

// NewMemoryStream returns an open stream; sizeHint preallocates when the
// expected length is known.
func NewMemoryStream(sizeHint int) *MemoryStream {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &MemoryStream{
		buf:     make([]byte, 0, sizeHint),
		changed: make(chan struct{}),
	}
}

// broadcast wakes every waiting reader. Callers hold mu.
func (s *MemoryStream) broadcast() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *MemoryStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StreamOpen {
		return 0, ErrStreamClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	s.buf = append(s.buf, p...)
	s.broadcast()
	return len(p), nil
}

func (s *MemoryStream) terminate(state StreamState, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StreamOpen {
		return false
	}
	s.state = state
	s.err = err
	s.broadcast()
	return true
}

// SetComplete marks a successful end of data. Only the first terminal
// transition wins; the result reports whether this call was it.
func (s *MemoryStream) SetComplete() bool {
	return s.terminate(StreamComplete, nil)
}

// SetFailed ends the stream with err.
func (s *MemoryStream) SetFailed(err error) bool {
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return s.terminate(StreamFailed, err)
}

// SetCancelled ends the stream with ErrStreamCancelled.
func (s *MemoryStream) SetCancelled() bool {
	return s.terminate(StreamCancelled, ErrStreamCancelled)
}

func (s *MemoryStream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error, nil while open or after completion.
func (s *MemoryStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *MemoryStream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Wait blocks until the stream is terminal or ctx is done.
func (s *MemoryStream) Wait(ctx context.Context) (StreamState, error) {
	for {
		s.mu.Lock()
		state, err, ch := s.state, s.err, s.changed
		s.mu.Unlock()
		if state != StreamOpen {
			return state, err
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return StreamOpen, ctx.Err()
		}
	}
}

// Bytes waits for completion and returns the full content. A failed or
// cancelled stream returns its terminal error.
func (s *MemoryStream) Bytes(ctx context.Context) ([]byte, error) {
	state, err := s.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if state != StreamComplete {
		return nil, s.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf[:len(s.buf):len(s.buf)], nil
}

// NewReader returns an independent cursor starting at offset zero.
func (s *MemoryStream) NewReader() io.ReadCloser {
	return &streamReader{s: s, closed: make(chan struct{})}
}

type streamReader struct {
	s      *MemoryStream
	off    int
	once   sync.Once
	closed chan struct{}
}

func (r *streamReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		select {
		case <-r.closed:
			return 0, io.ErrClosedPipe
		default:
		}

		r.s.mu.Lock()
		if r.off < len(r.s.buf) {
			n := copy(p, r.s.buf[r.off:])
			r.off += n
			r.s.mu.Unlock()
			return n, nil
		}
		state, err, ch := r.s.state, r.s.err, r.s.changed
		r.s.mu.Unlock()

		switch state {
		case StreamComplete:
			return 0, io.EOF
		case StreamFailed, StreamCancelled:
			return 0, err
		}

		select {
		case <-ch:
		case <-r.closed:
			return 0, io.ErrClosedPipe
		}
	}
}

func (r *streamReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}
