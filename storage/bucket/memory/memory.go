package memory

import (
	"github.com/cockroachdb/pebble/v2/vfs"

	"github.com/omalloc/trove/storage/bucket/disk"
)

// New returns a bucket whose files live in process memory. Everything is
// lost on restart.
func New(root string) (*disk.Bucket, error) {
	return disk.NewWithFS(vfs.NewMem(), root, "memory")
}
