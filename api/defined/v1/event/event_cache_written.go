package event

import (
	"time"

	"github.com/google/uuid"
)

// CacheWrittenKey is emitted after a fetch commits its body to the
// persistent cache.
const CacheWrittenKey Kind = "cache.written"

// CacheWrittenTopic is the typed topic of CacheWrittenKey.
var CacheWrittenTopic = NewTopicKey[CacheWritten](CacheWrittenKey)

// CacheWritten describes a committed cache entry.
type CacheWritten struct {
	Locator     string
	Principal   string
	Category    string
	Session     uuid.UUID
	MimeType    string
	Compression string
	Size        uint64
	StoredSize  uint64
	Path        string
	WrittenAt   time.Time
}
