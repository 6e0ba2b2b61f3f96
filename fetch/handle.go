package fetch

import (
	"context"

	"github.com/google/uuid"

	fetchv1 "github.com/omalloc/trove/api/defined/v1/fetch"
	storagev1 "github.com/omalloc/trove/api/defined/v1/storage"
)

// Progress is an advisory transfer update. Indeterminate updates carry no
// byte counts.
type Progress struct {
	Indeterminate bool
	BytesRead     int64
	TotalBytes    int64
}

// Handle is the caller's view of a submitted fetch.
type Handle struct {
	t *task
}

// Session is the correlation id of the notifications of this fetch.
func (h *Handle) Session() uuid.UUID { return h.t.Session() }

func (h *Handle) State() State { return h.t.State() }

// Cancel aborts the fetch. It is idempotent; a fetch that already
// finished is unaffected.
func (h *Handle) Cancel() { h.t.cancel() }

// Done is closed once the fetch reached a terminal state and its terminal
// notification was delivered.
func (h *Handle) Done() <-chan struct{} { return h.t.done }

// Wait blocks until Done or ctx ends, and returns Err.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.t.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the failure of a finished fetch, nil while running or after
// success. The error is a *fetchv1.Failure.
func (h *Handle) Err() error {
	if f := h.t.Failure(); f != nil {
		return f
	}
	return nil
}

// Entry returns the cache entry written or served by the fetch.
func (h *Handle) Entry() storagev1.Entry { return h.t.Entry() }

// Stream returns a reader factory over the downloaded bytes once the
// transfer started, nil before.
func (h *Handle) Stream() fetchv1.StreamFactory { return h.t.Stream() }

// Progress delivers advisory updates. Updates are dropped when the
// channel is full; it is closed when the fetch finishes.
func (h *Handle) Progress() <-chan Progress { return h.t.progress }
