package sharedkv

import (
	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"

	"github.com/omalloc/trove/api/defined/v1/storage"
	"github.com/omalloc/trove/contrib/log"
)

// NewMemSharedKV create a new memory kv store
func NewMemSharedKV() storage.SharedKV {
	opts := &pebble.Options{
		FS:         vfs.NewMem(),
		DisableWAL: true,
		Logger:     log.NewHelper(log.NewFilter(log.GetLogger(), log.FilterLevel(log.LevelWarn))),
	}

	db, err := newPebbleKV("", opts)
	if err != nil {
		panic(err)
	}

	return db
}
