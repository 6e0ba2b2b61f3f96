// Package auth keeps the bearer tokens used by authenticated fetches.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	fetchv1 "github.com/omalloc/trove/api/defined/v1/fetch"
	"github.com/omalloc/trove/contrib/log"
)

var ErrNoSource = errors.New("auth: no token source")

// expirySkew treats tokens about to expire as expired.
const expirySkew = 10 * time.Second

// Token is an access token. A zero ExpiresAt never expires.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether t can still be used at now.
func (t *Token) Valid(now time.Time) bool {
	if t == nil || t.Value == "" {
		return false
	}
	return t.ExpiresAt.IsZero() || now.Add(expirySkew).Before(t.ExpiresAt)
}

func (t *Token) String() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("token(expires=%s)", t.ExpiresAt.Format(time.RFC3339))
}

// Source acquires new tokens. The mechanics (OAuth flows, device ids) are
// up to the implementation.
type Source interface {
	FetchAnonymous(ctx context.Context) (*Token, error)
	Fetch(ctx context.Context, principal fetchv1.Principal) (*Token, error)
}

// Credentials holds the most recent token of each principal.
type Credentials struct {
	source Source
	log    *log.Helper
	now    func() time.Time

	mu     sync.Mutex
	tokens map[string]*Token

	reset atomic.Bool
	group singleflight.Group
}

type Option func(*Credentials)

func WithLogger(logger log.Logger) Option {
	return func(c *Credentials) {
		c.log = log.NewHelper(log.With(logger, "module", "auth"))
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Credentials) {
		c.now = now
	}
}

func NewCredentials(source Source, opts ...Option) *Credentials {
	c := &Credentials{
		source: source,
		now:    time.Now,
		tokens: make(map[string]*Token),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = log.NewHelper(log.With(log.GetLogger(), "module", "auth"))
	}
	return c
}

func key(p fetchv1.Principal) string {
	if p.Anonymous {
		return "anonymous"
	}
	return p.Namespace()
}

// ResetOnNextRequest drops every stored token at the start of the next
// authenticated fetch.
func (c *Credentials) ResetOnNextRequest() {
	c.reset.Store(true)
}

// ResetPending reports whether a reset is waiting to be consumed.
func (c *Credentials) ResetPending() bool {
	return c.reset.Load()
}

// Latest returns the stored token of p, valid or not.
func (c *Credentials) Latest(p fetchv1.Principal) (*Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, ok := c.tokens[key(p)]
	return tok, ok
}

// Store records tok as the most recent token of p.
func (c *Credentials) Store(p fetchv1.Principal, tok *Token) {
	c.mu.Lock()
	c.tokens[key(p)] = tok
	c.mu.Unlock()
}

// Invalidate forgets the token of p.
func (c *Credentials) Invalidate(p fetchv1.Principal) {
	c.mu.Lock()
	delete(c.tokens, key(p))
	c.mu.Unlock()
}

// Token consumes a pending reset, then returns a valid token of p. An
// absent or expired token is fetched from the source; concurrent fetches
// for one principal share a single source call. fetched reports whether
// the source was consulted.
func (c *Credentials) Token(ctx context.Context, p fetchv1.Principal) (tok *Token, fetched bool, err error) {
	if c.reset.Swap(false) {
		c.mu.Lock()
		clear(c.tokens)
		c.mu.Unlock()
		c.log.Infof("credentials reset, all tokens dropped")
	}

	if tok, ok := c.Latest(p); ok && tok.Valid(c.now()) {
		return tok, false, nil
	}
	if c.source == nil {
		return nil, false, ErrNoSource
	}

	k := key(p)
	ch := c.group.DoChan(k, func() (any, error) {
		fctx := context.WithoutCancel(ctx)
		var (
			tok *Token
			err error
		)
		if p.Anonymous {
			tok, err = c.source.FetchAnonymous(fctx)
		} else {
			tok, err = c.source.Fetch(fctx, p)
		}
		if err != nil {
			return nil, err
		}
		if tok == nil || tok.Value == "" {
			return nil, errors.New("auth: source returned an empty token")
		}
		c.Store(p, tok)
		c.log.Debugf("token refreshed for %s, %s", p, tok)
		return tok, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, true, res.Err
		}
		return res.Val.(*Token), true, nil
	case <-ctx.Done():
		return nil, true, ctx.Err()
	}
}
