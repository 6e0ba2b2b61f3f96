package conf

import (
	"time"

	"github.com/omalloc/trove/pkg/mapstruct"
)

type Bootstrap struct {
	Logger      *Logger      `json:"logger" yaml:"logger"`
	Scheduler   *Scheduler   `json:"scheduler" yaml:"scheduler"`
	Fetch       *Fetch       `json:"fetch" yaml:"fetch"`
	Storage     *Storage     `json:"storage" yaml:"storage"`
	ObjectCache *ObjectCache `json:"object_cache" yaml:"object_cache"`
}

type Logger struct {
	Level      string `json:"level" yaml:"level"`
	Path       string `json:"path" yaml:"path"`
	MaxSize    int    `json:"max_size" yaml:"max_size"` // megabytes
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAge     int    `json:"max_age" yaml:"max_age"` // days
	Compress   bool   `json:"compress" yaml:"compress"`
}

// Scheduler maps queue classifications to worker counts. The `default`
// pool serves every queue without its own entry.
type Scheduler struct {
	Pools map[string]int `json:"pools" yaml:"pools"`
}

type Fetch struct {
	ChunkSize          int               `json:"chunk_size" yaml:"chunk_size"`
	RateLimitKbps      int               `json:"rate_limit_kbps" yaml:"rate_limit_kbps"`
	AnonymizingNetwork bool              `json:"anonymizing_network" yaml:"anonymizing_network"`
	Proxy              string            `json:"proxy" yaml:"proxy"` // e.g. socks5://127.0.0.1:9050
	UserAgent          string            `json:"user_agent" yaml:"user_agent"`
	Timeout            time.Duration     `json:"timeout" yaml:"timeout"` // connect and response headers only
	Queues             map[string]*Queue `json:"queues" yaml:"queues"`
}

// Queue describes how requests of one classification are decorated.
type Queue struct {
	Auth    bool              `json:"auth" yaml:"auth"`
	Headers map[string]string `json:"headers" yaml:"headers"`
}

type Storage struct {
	Path               string            `json:"path" yaml:"path"`
	Driver             string            `json:"driver" yaml:"driver"`   // native | memory
	DBType             string            `json:"db_type" yaml:"db_type"` // pebble | nutsdb | badger
	DBPath             string            `json:"db_path" yaml:"db_path"`
	DBConfig           map[string]any    `json:"db_config" yaml:"db_config"`
	Compression        map[string]string `json:"compression" yaml:"compression"`
	DefaultCompression string            `json:"default_compression" yaml:"default_compression"`
	MaxAge             time.Duration     `json:"max_age" yaml:"max_age"`
	PruneInterval      time.Duration     `json:"prune_interval" yaml:"prune_interval"`
}

// UnmarshalDBConfig decodes the driver specific db_config into v.
func (s *Storage) UnmarshalDBConfig(v any) error {
	if s.DBConfig == nil {
		return nil
	}
	return mapstruct.Decode(s.DBConfig, v)
}

type ObjectCache struct {
	Path        string        `json:"path" yaml:"path"` // empty keeps the backing KV in memory
	Codec       string        `json:"codec" yaml:"codec"`
	Capacity    int           `json:"capacity" yaml:"capacity"`
	GracePeriod time.Duration `json:"grace_period" yaml:"grace_period"`
	MaxBatch    int           `json:"max_batch" yaml:"max_batch"`
	Workers     int           `json:"workers" yaml:"workers"`
}
