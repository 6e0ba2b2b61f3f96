package object

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// IdHashSize is the size of the byte array that contains the object hash.
const IdHashSize = sha1.Size

// IDHash is the fixed-width byte array that represents an ID hash.
type IDHash [IdHashSize]byte

// Key is the identity tuple of a cache entry. Principal is already the
// one-way hashed namespace of the requesting account.
type Key struct {
	Locator   string
	Principal string
	Category  string
	Session   uuid.UUID
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.Principal, k.Category, k.Session, k.Locator)
}

// Latest returns the session-less key used to find the newest entry of a
// locator.
func (k Key) Latest() Key {
	return Key{Locator: k.Locator, Principal: k.Principal, Category: k.Category}
}

type ID struct {
	key  Key
	hash IDHash

	cacheID string
}

func (id *ID) String() string {
	return id.cacheID
}

// Key returns the identity tuple of the ID.
func (id *ID) Key() Key {
	return id.key
}

func (id *ID) Hash() IDHash {
	return id.hash
}

func (id *ID) HashStr() string {
	return hex.EncodeToString(id.hash[:])
}

func (id *ID) Bytes() []byte {
	return id.hash[:]
}

// Namespace returns the per principal, per category directory of the ID.
func (id *ID) Namespace() string {
	return filepath.Join(sanitize(id.key.Principal), sanitize(id.key.Category))
}

// WPath returns the read/write path of the object ID.
// dir <ns>/F/FF/hash.
func (id *ID) WPath(pwd string) string {
	hash := id.HashStr()
	return filepath.Join(pwd, id.Namespace(), hash[0:1], hash[2:4], hash)
}

func (idx IDHash) String() string {
	return hex.EncodeToString(idx[:])
}

// NewID derives the content address of key.
func NewID(key Key) *ID {
	hash := sha1.Sum([]byte(key.String()))
	return &ID{
		key:     key,
		hash:    hash,
		cacheID: fmt.Sprintf("{%x:%s}", hash, key.Locator),
	}
}

// NewLatestID derives the address of the newest-entry pointer of key.
func NewLatestID(key Key) *ID {
	return NewID(key.Latest())
}

func sanitize(part string) string {
	if part == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, part)
}
