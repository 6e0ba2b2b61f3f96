package conf

import (
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/omalloc/trove/pkg/x/runtime"
)

// Default returns the built-in configuration.
func Default() *Bootstrap {
	return &Bootstrap{
		Logger: &Logger{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     7,
		},
		Scheduler: &Scheduler{
			Pools: map[string]int{
				"api":       2,
				"immediate": 2,
				"fast":      4,
				"default":   4,
			},
		},
		Fetch: &Fetch{
			ChunkSize: 64 << 10,
			UserAgent: runtime.BuildInfo.UserAgent(),
			Timeout:   30 * time.Second,
			Queues: map[string]*Queue{
				"api": {Auth: true},
			},
		},
		Storage: &Storage{
			Path:               "cache",
			Driver:             "native",
			DBType:             "pebble",
			DBPath:             ".indexdb",
			DefaultCompression: "none",
			MaxAge:             7 * 24 * time.Hour,
			PruneInterval:      time.Hour,
		},
		ObjectCache: &ObjectCache{
			Codec:       "json",
			Capacity:    1024,
			GracePeriod: 5 * time.Minute,
			MaxBatch:    25,
			Workers:     2,
		},
	}
}

// Parse decodes YAML and fills unset fields from Default. A queues table
// in the file replaces the built-in one, so `auth: false` is kept.
func Parse(data []byte) (*Bootstrap, error) {
	bc := &Bootstrap{}
	if err := yaml.Unmarshal(data, bc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	def := Default()
	if bc.Fetch != nil && bc.Fetch.Queues != nil {
		def.Fetch.Queues = nil
	}
	if err := mergo.Merge(bc, def); err != nil {
		return nil, fmt.Errorf("merge default config: %w", err)
	}

	for name, workers := range bc.Scheduler.Pools {
		if workers <= 0 {
			return nil, fmt.Errorf("scheduler.pools.%s: needs at least one worker, got %d", name, workers)
		}
	}
	return bc, nil
}

// Load reads and parses the config file at path. A missing file yields the
// defaults.
func Load(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return Parse(data)
}
