package sharedkv

import (
	"github.com/cockroachdb/pebble/v2"

	"github.com/omalloc/trove/api/defined/v1/storage"
	"github.com/omalloc/trove/contrib/log"
)

// NewStoreSharedKV opens an on-disk kv store at storePath.
func NewStoreSharedKV(storePath string) (storage.SharedKV, error) {
	return newPebbleKV(storePath, &pebble.Options{
		Logger: log.NewHelper(log.NewFilter(log.GetLogger(), log.FilterLevel(log.LevelWarn))),
	})
}
