package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fetchv1 "github.com/omalloc/trove/api/defined/v1/fetch"
)

type countingSource struct {
	calls   atomic.Int32
	anon    atomic.Int32
	err     error
	expires time.Time
	gate    chan struct{}
}

func (s *countingSource) FetchAnonymous(ctx context.Context) (*Token, error) {
	s.anon.Add(1)
	return s.Fetch(ctx, fetchv1.AnonymousPrincipal)
}

func (s *countingSource) Fetch(_ context.Context, p fetchv1.Principal) (*Token, error) {
	n := s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return nil, s.err
	}
	return &Token{Value: p.Username + "-" + string(rune('0'+n)), ExpiresAt: s.expires}, nil
}

var alice = fetchv1.Principal{Username: "alice"}

func TestTokenCached(t *testing.T) {
	src := &countingSource{expires: time.Now().Add(time.Hour)}
	c := NewCredentials(src)

	tok, fetched, err := c.Token(context.Background(), alice)
	require.NoError(t, err)
	assert.True(t, fetched)

	again, fetched, err := c.Token(context.Background(), alice)
	require.NoError(t, err)
	assert.False(t, fetched)
	assert.Equal(t, tok, again)
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()
	src := &countingSource{expires: now.Add(time.Minute)}
	c := NewCredentials(src, WithClock(func() time.Time { return now }))

	_, _, err := c.Token(context.Background(), alice)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, fetched, err := c.Token(context.Background(), alice)
	require.NoError(t, err)
	assert.True(t, fetched)
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestTokenAnonymous(t *testing.T) {
	src := &countingSource{}
	c := NewCredentials(src)

	_, _, err := c.Token(context.Background(), fetchv1.AnonymousPrincipal)
	require.NoError(t, err)
	assert.EqualValues(t, 1, src.anon.Load())

	_, ok := c.Latest(alice)
	assert.False(t, ok)
}

func TestTokenFailure(t *testing.T) {
	boom := errors.New("oauth down")
	c := NewCredentials(&countingSource{err: boom})

	_, fetched, err := c.Token(context.Background(), alice)
	assert.ErrorIs(t, err, boom)
	assert.True(t, fetched)

	_, ok := c.Latest(alice)
	assert.False(t, ok)
}

func TestResetOnNextRequest(t *testing.T) {
	src := &countingSource{}
	c := NewCredentials(src)

	_, _, _ = c.Token(context.Background(), alice)
	c.ResetOnNextRequest()
	assert.True(t, c.ResetPending())

	_, fetched, err := c.Token(context.Background(), alice)
	require.NoError(t, err)
	assert.True(t, fetched, "reset must force a new token")
	assert.False(t, c.ResetPending(), "reset is consumed once")

	_, fetched, _ = c.Token(context.Background(), alice)
	assert.False(t, fetched)
}

func TestTokenCoalesced(t *testing.T) {
	src := &countingSource{gate: make(chan struct{})}
	c := NewCredentials(src)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.Token(context.Background(), alice)
			assert.NoError(t, err)
		}()
	}

	assert.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.EqualValues(t, 1, src.calls.Load())
}

func TestNoSource(t *testing.T) {
	_, _, err := NewCredentials(nil).Token(context.Background(), alice)
	assert.ErrorIs(t, err, ErrNoSource)
}
