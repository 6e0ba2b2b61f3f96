package sharedkv

import (
	"context"

	"github.com/omalloc/trove/api/defined/v1/storage"
)

var _ storage.SharedKV = (*emptySharedKV)(nil)

// emptySharedKV forgets everything; counters always read zero.
type emptySharedKV struct{}

func (e *emptySharedKV) Close() error {
	return nil
}

func (e *emptySharedKV) Delete(ctx context.Context, key []byte) error {
	return nil
}

func (e *emptySharedKV) DropPrefix(ctx context.Context, prefix []byte) error {
	return nil
}

func (e *emptySharedKV) Get(ctx context.Context, key []byte) ([]byte, error) {
	return nil, storage.ErrKeyNotFound
}

func (e *emptySharedKV) GetCounter(ctx context.Context, key []byte) (uint32, error) {
	return 0, storage.ErrKeyNotFound
}

func (e *emptySharedKV) Incr(ctx context.Context, key []byte, delta uint32) (uint32, error) {
	return delta, nil
}

func (e *emptySharedKV) IteratePrefix(ctx context.Context, prefix []byte, f func(key []byte, val []byte) error) error {
	return nil
}

func (e *emptySharedKV) Set(ctx context.Context, key []byte, val []byte) error {
	return nil
}

func NewEmpty() storage.SharedKV {
	return &emptySharedKV{}
}
