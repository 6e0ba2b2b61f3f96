package compress

import (
	"fmt"
	"sync"

	storagev1 "github.com/omalloc/trove/api/defined/v1/storage"
	"github.com/omalloc/trove/contrib/log"
)

// DefaultAssignments is the category table used when the configuration
// names none. Media bodies stay byte-identical on disk; structured
// listings compress.
var DefaultAssignments = map[string]storagev1.Compression{
	"captcha":              storagev1.CompressionNone,
	"image":                storagev1.CompressionNone,
	"inline_image_preview": storagev1.CompressionNone,
	"nocache":              storagev1.CompressionNone,
	"thumbnail":            storagev1.CompressionNone,
	"comment_list":         storagev1.CompressionZstd,
	"image_info":           storagev1.CompressionZstd,
	"inbox_list":           storagev1.CompressionZstd,
	"multireddit_list":     storagev1.CompressionZstd,
	"post_list":            storagev1.CompressionZstd,
	"subreddit_about":      storagev1.CompressionZstd,
	"subreddit_list":       storagev1.CompressionZstd,
	"user_about":           storagev1.CompressionZstd,
}

// Table maps content categories to codecs. It is safe for concurrent use
// and can be replaced wholesale at runtime.
type Table struct {
	mu       sync.RWMutex
	codecs   map[string]Codec
	fallback Codec
	log      *log.Helper
}

// NewTable validates every assignment. fallback serves unknown categories
// and defaults to none.
func NewTable(assignments map[string]storagev1.Compression, fallback storagev1.Compression, logger log.Logger) (*Table, error) {
	t := &Table{log: log.NewHelper(logger)}
	if err := t.Replace(assignments, fallback); err != nil {
		return nil, err
	}
	return t, nil
}

// MustDefaultTable builds a table from DefaultAssignments.
func MustDefaultTable(logger log.Logger) *Table {
	t, err := NewTable(DefaultAssignments, storagev1.CompressionNone, logger)
	if err != nil {
		panic(err)
	}
	return t
}

// Replace swaps in a new assignment set. On error the table is unchanged.
func (t *Table) Replace(assignments map[string]storagev1.Compression, fallback storagev1.Compression) error {
	if len(assignments) == 0 {
		assignments = DefaultAssignments
	}

	next := make(map[string]Codec, len(assignments))
	for category, name := range assignments {
		c, err := Lookup(name)
		if err != nil {
			return fmt.Errorf("category %q: %w", category, err)
		}
		next[category] = c
	}

	fb, err := Lookup(fallback)
	if err != nil {
		return fmt.Errorf("fallback: %w", err)
	}

	t.mu.Lock()
	t.codecs = next
	t.fallback = fb
	t.mu.Unlock()
	return nil
}

// Select returns the codec for category. Unknown categories log a warning
// and get the fallback codec.
func (t *Table) Select(category string) Codec {
	t.mu.RLock()
	c, ok := t.codecs[category]
	fb := t.fallback
	t.mu.RUnlock()
	if ok {
		return c
	}
	t.log.Warnf("no codec assigned to category %q, using %s", category, fb.Name())
	return fb
}

// Snapshot returns a copy of the current assignments.
func (t *Table) Snapshot() map[string]storagev1.Compression {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]storagev1.Compression, len(t.codecs))
	for k, c := range t.codecs {
		out[k] = c.Name()
	}
	return out
}
