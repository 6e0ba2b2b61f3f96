package fetch

import (
	"context"
	"fmt"
	"io"
)

// RequestDetails is what the transport needs to build a request.
type RequestDetails struct {
	Locator string
	Method  Method
	Body    []byte
}

// Response is a successful transport response. ContentLength is -1 when
// unknown. The caller closes Body.
type Response struct {
	MimeType      string
	ContentLength int64
	Body          io.ReadCloser
}

// TransportError is the failure of a transport call.
type TransportError struct {
	Kind   Kind
	Cause  error
	Status int
	Body   *FailedBody
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport: %s status %d: %v", e.Kind, e.Status, e.Cause)
	}
	return fmt.Sprintf("transport: %s: %v", e.Kind, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Transport builds requests against the network.
type Transport interface {
	// Prepare builds a request; nothing is sent until Do.
	Prepare(ctx context.Context, details RequestDetails) TransportRequest
	// Recreate discards pooled connections and rebuilds the backend.
	Recreate()
}

// TransportRequest is a single prepared call.
type TransportRequest interface {
	AddHeader(name, value string)
	// Cancel aborts the call, unblocking a goroutine parked in Do or in a
	// read of the response body.
	Cancel()
	// Do executes the call on the calling goroutine. Errors are
	// *TransportError.
	Do() (*Response, error)
}
