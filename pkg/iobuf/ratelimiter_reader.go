package iobuf

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

type rateLimitReader struct {
	ctx context.Context
	R   io.ReadCloser
	L   *rate.Limiter
}

// NewRateLimitReader throttles r to Kbps kilobytes per second. Waiting for
// tokens is abandoned when ctx is done.
func NewRateLimitReader(ctx context.Context, r io.ReadCloser, Kbps int) io.ReadCloser {
	if Kbps <= 0 {
		return r
	}
	l := Kbps << 10
	return &rateLimitReader{
		ctx: ctx,
		R:   r,
		L:   rate.NewLimiter(rate.Limit(l), l),
	}
}

func (r *rateLimitReader) Read(p []byte) (n int, err error) {
	l := len(p)
	burst := r.L.Burst()
	for {
		size := l - n
		if size > burst {
			size = burst
		}

		if err = r.L.WaitN(r.ctx, size); err != nil {
			return
		}

		curr, err1 := r.R.Read(p[n : n+size])
		n += curr
		if n == l {
			return n, nil
		}

		if err1 != nil {
			return n, err1
		}
		// short read, hand back what we have
		if curr < size {
			return n, nil
		}
	}
}

func (r *rateLimitReader) Close() error {
	return r.R.Close()
}
