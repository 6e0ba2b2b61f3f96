// Package nethttp adapts net/http to the fetch transport contract.
package nethttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	fetchv1 "github.com/omalloc/trove/api/defined/v1/fetch"
	"github.com/omalloc/trove/contrib/log"
	xhttp "github.com/omalloc/trove/pkg/x/http"
)

var _ fetchv1.Transport = (*Transport)(nil)

type Option func(*Transport)

// WithProxy routes every request through proxy, e.g. a local SOCKS5
// endpoint of an anonymizing network.
func WithProxy(proxy *url.URL) Option {
	return func(t *Transport) {
		t.proxy = proxy
	}
}

// WithTimeout bounds connection setup and response headers.
func WithTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.timeout = d
	}
}

func WithLogger(logger log.Logger) Option {
	return func(t *Transport) {
		t.log = log.NewHelper(log.With(logger, "module", "transport"))
	}
}

// Transport builds requests on a shared http.Client that Recreate swaps.
type Transport struct {
	proxy   *url.URL
	timeout time.Duration
	log     *log.Helper

	mu     sync.RWMutex
	client *http.Client
}

func New(opts ...Option) *Transport {
	t := &Transport{timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = log.NewHelper(log.With(log.GetLogger(), "module", "transport"))
	}
	t.client = t.newClient()
	return t
}

func (t *Transport) newClient() *http.Client {
	proxy := http.ProxyFromEnvironment
	if t.proxy != nil {
		proxy = http.ProxyURL(t.proxy)
	}
	dialer := &net.Dialer{Timeout: t.timeout, KeepAlive: 30 * time.Second}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 proxy,
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConnsPerHost:   8,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   t.timeout,
			ResponseHeaderTimeout: t.timeout,
		},
	}
}

func (t *Transport) current() *http.Client {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.client
}

// Recreate drops pooled connections and builds a fresh client. Requests
// already prepared keep the client they were built with.
func (t *Transport) Recreate() {
	t.mu.Lock()
	old := t.client
	t.client = t.newClient()
	t.mu.Unlock()

	old.CloseIdleConnections()
	t.log.Infof("http backend recreated")
}

func (t *Transport) Prepare(ctx context.Context, details fetchv1.RequestDetails) fetchv1.TransportRequest {
	ctx, cancel := context.WithCancel(ctx)
	return &request{
		ctx:     ctx,
		cancel:  cancel,
		client:  t.current(),
		details: details,
		header:  make(http.Header),
	}
}

type request struct {
	ctx     context.Context
	cancel  context.CancelFunc
	client  *http.Client
	details fetchv1.RequestDetails
	header  http.Header
}

func (r *request) AddHeader(name, value string) {
	r.header.Set(name, value)
}

func (r *request) Cancel() {
	r.cancel()
}

func (r *request) Do() (*fetchv1.Response, error) {
	var body io.Reader
	if r.details.Body != nil {
		body = bytes.NewReader(r.details.Body)
	}

	req, err := http.NewRequestWithContext(r.ctx, string(r.details.Method), r.details.Locator, body)
	if err != nil {
		r.cancel()
		return nil, &fetchv1.TransportError{Kind: fetchv1.KindConnection, Cause: err}
	}
	xhttp.CopyHeader(req.Header, r.header)

	resp, err := r.client.Do(req)
	if err != nil {
		r.cancel()
		kind := fetchv1.KindConnection
		if errors.Is(err, context.Canceled) {
			kind = fetchv1.KindCancelled
		}
		return nil, &fetchv1.TransportError{Kind: kind, Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		failed := fetchv1.NewFailedBody(resp.Body)
		_ = resp.Body.Close()
		r.cancel()
		return nil, &fetchv1.TransportError{
			Kind:   fetchv1.KindConnection,
			Cause:  fmt.Errorf("unexpected status %s", resp.Status),
			Status: resp.StatusCode,
			Body:   failed,
		}
	}

	return &fetchv1.Response{
		MimeType:      xhttp.MimeType(resp.Header),
		ContentLength: xhttp.ContentLength(resp),
		Body:          &responseBody{ReadCloser: resp.Body, cancel: r.cancel},
	}, nil
}

// responseBody releases the request context with the body.
type responseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *responseBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
