package encoding

import (
	"fmt"
	"strings"
	"sync"

	"github.com/omalloc/trove/pkg/encoding/cobr"
	"github.com/omalloc/trove/pkg/encoding/json"
)

var (
	mu           sync.Mutex
	defaultCodec Codec = json.JSONCodec{}

	codecs = map[string]Codec{
		"json": json.JSONCodec{},
		"cbor": &cobr.CborCodec{},
	}
)

// Codec defines the interface used to encode and decode persisted values.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Marshal returns the wire format of v.
	Marshal(v any) ([]byte, error)
	// Unmarshal parses the wire format into v.
	Unmarshal(data []byte, v any) error
	// Name returns the name of the Codec implementation. The result must be
	// static.
	Name() string
}

// Lookup returns the registered codec by name. An empty name yields the
// default codec.
func Lookup(name string) (Codec, error) {
	if name == "" {
		return GetDefaultCodec(), nil
	}

	mu.Lock()
	defer mu.Unlock()

	c, ok := codecs[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("encoding: codec %q not registered", name)
	}
	return c, nil
}

// RegisterCodec makes a codec available to Lookup.
func RegisterCodec(c Codec) {
	mu.Lock()
	defer mu.Unlock()

	codecs[strings.ToLower(c.Name())] = c
}

// SetDefaultCodec sets the default codec.
func SetDefaultCodec(codec Codec) {
	mu.Lock()
	defer mu.Unlock()

	defaultCodec = codec
}

func GetDefaultCodec() Codec {
	mu.Lock()
	defer mu.Unlock()

	return defaultCodec
}

func Marshal(v any) ([]byte, error) {
	return GetDefaultCodec().Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return GetDefaultCodec().Unmarshal(data, v)
}
