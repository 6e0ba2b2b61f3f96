package fetch

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"
)

// Kind classifies a failed fetch.
type Kind uint8

const (
	KindCancelled Kind = iota + 1
	KindConnection
	KindParse
	KindStorage
	KindCacheDirMissing
	KindAuth
	// KindCacheMiss is reported by cache-only strategies with no entry.
	KindCacheMiss
)

func (k Kind) String() string {
	switch k {
	case KindCancelled:
		return "CANCELLED"
	case KindConnection:
		return "CONNECTION"
	case KindParse:
		return "PARSE"
	case KindStorage:
		return "STORAGE"
	case KindCacheDirMissing:
		return "CACHE_DIR_DOES_NOT_EXIST"
	case KindAuth:
		return "AUTH"
	case KindCacheMiss:
		return "CACHE_MISS"
	}
	return "UNKNOWN"
}

// maxFailedBody bounds the diagnostic snapshot of an error response.
const maxFailedBody = 64 << 10

// FailedBody is a bounded snapshot of an error response body.
type FailedBody struct {
	data      []byte
	truncated bool
}

// NewFailedBody captures up to 64KiB of r.
func NewFailedBody(r io.Reader) *FailedBody {
	if r == nil {
		return nil
	}
	buf, _ := io.ReadAll(io.LimitReader(r, maxFailedBody+1))
	fb := &FailedBody{data: buf}
	if len(buf) > maxFailedBody {
		fb.data = buf[:maxFailedBody]
		fb.truncated = true
	}
	return fb
}

// Bytes returns the captured bytes.
func (b *FailedBody) Bytes() []byte {
	return bytes.Clone(b.data)
}

// Truncated reports whether the body exceeded the snapshot limit.
func (b *FailedBody) Truncated() bool {
	return b.truncated
}

func (b *FailedBody) String() string {
	if utf8.Valid(b.data) {
		return string(b.data)
	}
	return fmt.Sprintf("<%d bytes binary>", len(b.data))
}

// Failure is the terminal error of a fetch.
type Failure struct {
	Kind    Kind
	Cause   error
	Status  int // HTTP status, 0 when unknown
	Locator string
	Body    *FailedBody
}

// NewFailure builds a failure for locator.
func NewFailure(kind Kind, cause error, status int, locator string, body *FailedBody) *Failure {
	return &Failure{
		Kind:    kind,
		Cause:   cause,
		Status:  status,
		Locator: locator,
		Body:    body,
	}
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", f.Locator, f.Kind)
	if f.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", f.Status)
	}
	if f.Cause != nil {
		msg += ": " + f.Cause.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Cause
}
