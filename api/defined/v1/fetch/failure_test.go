package fetch

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailureUnwrap(t *testing.T) {
	f := NewFailure(KindConnection, io.ErrUnexpectedEOF, 502, "https://example.com/x", nil)

	assert.ErrorIs(t, f, io.ErrUnexpectedEOF)
	assert.Contains(t, f.Error(), "CONNECTION")
	assert.Contains(t, f.Error(), "502")

	var target *Failure
	assert.True(t, errors.As(error(f), &target))
	assert.Equal(t, KindConnection, target.Kind)
}

func TestFailedBodySnapshot(t *testing.T) {
	small := NewFailedBody(strings.NewReader(`{"error":403}`))
	assert.Equal(t, `{"error":403}`, small.String())
	assert.False(t, small.Truncated())

	big := NewFailedBody(strings.NewReader(strings.Repeat("x", maxFailedBody+10)))
	assert.True(t, big.Truncated())
	assert.Len(t, big.Bytes(), maxFailedBody)

	assert.Nil(t, NewFailedBody(nil))
}

func TestPrincipalNamespace(t *testing.T) {
	a := Principal{Username: "alice"}
	b := Principal{Username: "bob"}

	assert.NotEqual(t, a.Namespace(), b.Namespace())
	assert.Len(t, a.Namespace(), 40)
	assert.NotContains(t, a.Namespace(), "alice")
}
