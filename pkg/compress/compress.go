package compress

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"

	storagev1 "github.com/omalloc/trove/api/defined/v1/storage"
)

var ErrUnknownCodec = errors.New("compress: unknown codec")

// Codec wraps writers and readers with one compression format.
type Codec interface {
	Name() storagev1.Compression
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

var (
	mu     sync.RWMutex
	codecs = map[storagev1.Compression]Codec{}
)

func init() {
	Register(noneCodec{})
	Register(zstdCodec{})
	Register(brotliCodec{})
}

// Register adds or replaces a codec.
func Register(c Codec) {
	mu.Lock()
	defer mu.Unlock()
	codecs[c.Name()] = c
}

// Lookup returns the codec registered under name. The empty name is none.
func Lookup(name storagev1.Compression) (Codec, error) {
	if name == "" {
		name = storagev1.CompressionNone
	}
	mu.RLock()
	defer mu.RUnlock()
	c, ok := codecs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return c, nil
}

// None returns the identity codec.
func None() Codec {
	return noneCodec{}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

type noneCodec struct{}

func (noneCodec) Name() storagev1.Compression { return storagev1.CompressionNone }

func (noneCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (noneCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type zstdCodec struct{}

func (zstdCodec) Name() storagev1.Compression { return storagev1.CompressionZstd }

func (zstdCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func (zstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

type brotliCodec struct{}

func (brotliCodec) Name() storagev1.Compression { return storagev1.CompressionBrotli }

func (brotliCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return brotli.NewWriterLevel(w, brotli.DefaultCompression), nil
}

func (brotliCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(brotli.NewReader(r)), nil
}
