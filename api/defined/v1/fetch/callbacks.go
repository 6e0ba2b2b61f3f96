package fetch

import (
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/omalloc/trove/api/defined/v1/storage"
)

// StreamFactory returns a new independent reader over delivered data.
type StreamFactory func() (io.ReadCloser, error)

// Callbacks receives the notifications of one fetch. Calls may arrive on
// any goroutine; marshaling to a UI thread is the implementer's concern.
//
// OnFailure fires at most once. Every other method is advisory and fires
// zero or one time (OnProgress possibly many times).
type Callbacks interface {
	OnDownloadStarted()
	OnProgress(indeterminate bool, bytesRead, totalBytes int64)
	OnDataStreamAvailable(stream StreamFactory, ts time.Time, session uuid.UUID, fromCache bool, mimeType string)
	OnDataStreamComplete(stream StreamFactory, ts time.Time, session uuid.UUID, fromCache bool, mimeType string)
	OnCacheFileWritten(entry storage.Entry, ts time.Time, session uuid.UUID, fromCache bool, mimeType string)
	OnFailure(failure *Failure)
}

var _ Callbacks = NopCallbacks{}

// NopCallbacks ignores every notification. Embed it to implement only the
// methods of interest.
type NopCallbacks struct{}

func (NopCallbacks) OnDownloadStarted()            {}
func (NopCallbacks) OnProgress(bool, int64, int64) {}
func (NopCallbacks) OnFailure(*Failure)            {}
func (NopCallbacks) OnDataStreamAvailable(StreamFactory, time.Time, uuid.UUID, bool, string) {
}
func (NopCallbacks) OnDataStreamComplete(StreamFactory, time.Time, uuid.UUID, bool, string) {
}
func (NopCallbacks) OnCacheFileWritten(storage.Entry, time.Time, uuid.UUID, bool, string) {
}
