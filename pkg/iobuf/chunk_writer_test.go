package iobuf

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type mockWriteCloser struct {
	bytes.Buffer
	closeCalled bool
	closeErr    error
}

func (m *mockWriteCloser) Close() error {
	m.closeCalled = true
	return m.closeErr
}

func TestChunkWriterCloser_Commit(t *testing.T) {
	mock := &mockWriteCloser{}
	var committed, aborted bool
	w := ChunkWriterCloser(mock,
		func() error { committed = true; return nil },
		func() error { aborted = true; return nil })

	n, err := w.Write([]byte("Hello, "))
	assert.NoError(t, err)
	assert.Equal(t, 7, n)
	_, _ = w.Write([]byte("World!"))

	assert.NoError(t, w.Close())
	assert.True(t, mock.closeCalled)
	assert.True(t, committed)
	assert.False(t, aborted)
	assert.Equal(t, "Hello, World!", mock.String())

	_, err = w.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrWriterDone)
	assert.ErrorIs(t, w.Abort(), ErrWriterDone)
}

func TestChunkWriterCloser_Abort(t *testing.T) {
	mock := &mockWriteCloser{}
	var committed, aborted bool
	w := ChunkWriterCloser(mock,
		func() error { committed = true; return nil },
		func() error { aborted = true; return nil })

	_, _ = w.Write([]byte("partial"))
	assert.NoError(t, w.Abort())
	assert.True(t, aborted)
	assert.False(t, committed)
	assert.ErrorIs(t, w.Close(), ErrWriterDone)
}

func TestChunkWriterCloser_CloseErrorAborts(t *testing.T) {
	boom := errors.New("disk full")
	mock := &mockWriteCloser{closeErr: boom}
	var committed, aborted bool
	w := ChunkWriterCloser(mock,
		func() error { committed = true; return nil },
		func() error { aborted = true; return nil })

	assert.ErrorIs(t, w.Close(), boom)
	assert.False(t, committed)
	assert.True(t, aborted)
}

func TestChunkWriterCloser_CommitError(t *testing.T) {
	boom := errors.New("rename failed")
	w := ChunkWriterCloser(&mockWriteCloser{}, func() error { return boom }, nil)
	assert.ErrorIs(t, w.Close(), boom)
}
