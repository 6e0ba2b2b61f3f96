package http

import (
	"mime"
	"net/http"
	"strings"
)

// CopyHeader adds every value of src to dst.
func CopyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// MimeType returns the media type of the Content-Type header without its
// parameters, lower-cased. Unparseable values are returned trimmed.
func MimeType(h http.Header) string {
	ct := h.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = ct[:i]
		}
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mt
}

// ContentLength returns the declared body length, -1 when unknown. A
// compressed body decoded by the client has no usable length.
func ContentLength(resp *http.Response) int64 {
	if resp.Uncompressed || resp.ContentLength < 0 {
		return -1
	}
	return resp.ContentLength
}
