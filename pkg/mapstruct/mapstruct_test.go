package mapstruct

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	var opts struct {
		CacheSize int           `yaml:"cache_size"`
		Sync      bool          `yaml:"sync"`
		Interval  time.Duration `yaml:"interval"`
		Timeout   time.Duration `yaml:"timeout"`
	}

	err := Decode(map[string]any{
		"cache_size": "1024",
		"sync":       true,
		"interval":   "30s",
		"timeout":    5,
	}, &opts)
	require.NoError(t, err)

	assert.Equal(t, 1024, opts.CacheSize)
	assert.True(t, opts.Sync)
	assert.Equal(t, 30*time.Second, opts.Interval)
	assert.Equal(t, 5*time.Second, opts.Timeout)

	assert.NoError(t, Decode(nil, &opts))
}
