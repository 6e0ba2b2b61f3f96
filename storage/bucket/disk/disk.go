package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/pebble/v2/vfs"

	storagev1 "github.com/omalloc/trove/api/defined/v1/storage"
	"github.com/omalloc/trove/api/defined/v1/storage/object"
	"github.com/omalloc/trove/contrib/log"
)

// Bucket is the file area of a store: entry bodies laid out under root by
// content address, on any pebble vfs.
type Bucket struct {
	fs       vfs.FS
	root     string
	driver   string
	fileMode os.FileMode
}

// New opens a bucket on the OS filesystem.
func New(root string) (*Bucket, error) {
	return NewWithFS(vfs.Default, root, "native")
}

// NewWithFS opens a bucket rooted at root on fs, creating root.
func NewWithFS(fs vfs.FS, root, driver string) (*Bucket, error) {
	b := &Bucket{
		fs:       fs,
		root:     filepath.Clean(root),
		driver:   driver,
		fileMode: os.FileMode(0o755),
	}
	if err := fs.MkdirAll(b.root, b.fileMode); err != nil {
		return nil, fmt.Errorf("create bucket root %s: %w", b.root, err)
	}
	return b, nil
}

func (b *Bucket) FS() vfs.FS { return b.fs }

func (b *Bucket) Root() string { return b.root }

// Type returns the driver name.
func (b *Bucket) Type() string { return b.driver }

// Exists reports whether root is present.
func (b *Bucket) Exists() bool {
	_, err := b.fs.Stat(b.root)
	return err == nil
}

// Path returns the final location of id.
func (b *Bucket) Path(id *object.ID) string {
	return id.WPath(b.root)
}

// CreateTemp creates a staging file next to the final path of id.
func (b *Bucket) CreateTemp(id *object.ID) (vfs.File, string, error) {
	if !b.Exists() {
		return nil, "", storagev1.ErrRootMissing
	}

	wpath := b.Path(id)
	if err := b.fs.MkdirAll(filepath.Dir(wpath), b.fileMode); err != nil {
		return nil, "", fmt.Errorf("bucket mkdir %s failed: %w", filepath.Dir(wpath), err)
	}

	tmpPath := fmt.Sprintf("%s.tmp%d", wpath, time.Now().UnixNano())
	f, err := b.fs.Create(tmpPath, vfs.WriteCategoryUnspecified)
	if err != nil {
		return nil, "", fmt.Errorf("bucket create %s failed: %w", tmpPath, err)
	}
	return f, tmpPath, nil
}

// Publish moves a staged file to its final path atomically.
func (b *Bucket) Publish(tmpPath string, id *object.ID) (string, error) {
	wpath := b.Path(id)
	if err := b.fs.Rename(tmpPath, wpath); err != nil {
		return "", fmt.Errorf("bucket rename %s failed: %w", tmpPath, err)
	}
	return wpath, nil
}

// Open opens a committed body for reading.
func (b *Bucket) Open(path string) (io.ReadCloser, error) {
	return b.fs.Open(path)
}

// Remove deletes a file; a missing file is not an error.
func (b *Bucket) Remove(path string) error {
	if err := b.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Usage reports the volume of root. Filesystems without disk usage
// support return an error.
func (b *Bucket) Usage() (storagev1.Usage, error) {
	du, err := b.fs.GetDiskUsage(b.root)
	if err != nil {
		return storagev1.Usage{}, err
	}
	return storagev1.Usage{
		TotalBytes: du.TotalBytes,
		UsedBytes:  du.UsedBytes,
		AvailBytes: du.AvailBytes,
	}, nil
}

// Sweep removes staging files older than maxAge left behind by crashes.
func (b *Bucket) Sweep(maxAge time.Duration) int {
	var removed int
	now := time.Now()
	var walk func(dir string)
	walk = func(dir string) {
		names, err := b.fs.List(dir)
		if err != nil {
			return
		}
		for _, name := range names {
			p := b.fs.PathJoin(dir, name)
			fi, err := b.fs.Stat(p)
			if err != nil {
				continue
			}
			if fi.IsDir() {
				walk(p)
				continue
			}
			if isTemp(name) && now.Sub(fi.ModTime()) > maxAge {
				if err := b.Remove(p); err == nil {
					removed++
				} else {
					log.Warnf("sweep %s failed: %v", p, err)
				}
			}
		}
	}
	walk(b.root)
	return removed
}

func isTemp(name string) bool {
	ext := filepath.Ext(name)
	return len(ext) > 4 && ext[:4] == ".tmp"
}
