package http

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMimeType(t *testing.T) {
	cases := map[string]string{
		"":                                "",
		"application/json":                "application/json",
		"Application/JSON; charset=UTF-8": "application/json",
		"image/png;;":                     "image/png",
	}
	for in, want := range cases {
		h := http.Header{}
		if in != "" {
			h.Set("Content-Type", in)
		}
		assert.Equal(t, want, MimeType(h), in)
	}
}

func TestContentLength(t *testing.T) {
	assert.EqualValues(t, 42, ContentLength(&http.Response{ContentLength: 42, Header: http.Header{"Content-Length": {"42"}}}))
	assert.EqualValues(t, -1, ContentLength(&http.Response{ContentLength: -1, Header: http.Header{}}))
	assert.EqualValues(t, 0, ContentLength(&http.Response{ContentLength: 0, Header: http.Header{"Content-Length": {"0"}}}))
	assert.EqualValues(t, -1, ContentLength(&http.Response{ContentLength: 42, Uncompressed: true}))
}

func TestCopyHeader(t *testing.T) {
	dst := http.Header{"A": {"1"}}
	CopyHeader(dst, http.Header{"A": {"2"}, "B": {"3"}})
	assert.Equal(t, []string{"1", "2"}, dst.Values("A"))
	assert.Equal(t, "3", dst.Get("B"))
}
