package indexdb

import (
	"github.com/omalloc/trove/api/defined/v1/storage"
	"github.com/omalloc/trove/contrib/log"
	"github.com/omalloc/trove/pkg/encoding"
	"github.com/omalloc/trove/pkg/mapstruct"
)

var _ storage.Option = (*option)(nil)

type option struct {
	path     string
	codec    encoding.Codec
	dbConfig map[string]any
	logger   log.Logger
}

type OptionFunc func(*option)

// WithCodec sets the metadata codec, the default codec otherwise.
func WithCodec(c encoding.Codec) OptionFunc {
	return func(o *option) {
		o.codec = c
	}
}

// WithDBConfig passes the driver specific `db_config` map.
func WithDBConfig(m map[string]any) OptionFunc {
	return func(o *option) {
		o.dbConfig = m
	}
}

func WithLogger(l log.Logger) OptionFunc {
	return func(o *option) {
		o.logger = l
	}
}

func NewOption(path string, opts ...OptionFunc) storage.Option {
	o := &option{path: path}
	for _, fn := range opts {
		fn(o)
	}
	if o.codec == nil {
		o.codec = encoding.GetDefaultCodec()
	}
	return o
}

func (o *option) DBPath() string {
	return o.path
}

func (o *option) Codec() encoding.Codec {
	return o.codec
}

func (o *option) Unmarshal(v any) error {
	return mapstruct.Decode(o.dbConfig, v)
}

// Logger returns the logger a driver should report through, falling back
// to the global logger at warn level.
func Logger(opt storage.Option) *log.Helper {
	if o, ok := opt.(*option); ok && o.logger != nil {
		return log.NewHelper(o.logger)
	}
	return log.NewHelper(log.NewFilter(log.GetLogger(), log.FilterLevel(log.LevelWarn)))
}

// UpperBound returns the smallest key greater than every key with prefix b,
// nil when no such key exists.
func UpperBound(b []byte) []byte {
	end := make([]byte, len(b))
	copy(end, b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i] = end[i] + 1
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
