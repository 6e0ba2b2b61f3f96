package conf

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
logger:
  level: debug
scheduler:
  pools:
    default: 8
    api: 1
fetch:
  chunk_size: 4096
  queues:
    api:
      auth: true
      headers:
        X-Client: trove
storage:
  path: /var/cache/trove
  db_type: nutsdb
  max_age: 48h
  compression:
    post_list: brotli
  db_config:
    segment_size: 1024
object_cache:
  grace_period: 30s
`

func TestParse(t *testing.T) {
	bc, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "debug", bc.Logger.Level)
	assert.Equal(t, 7, bc.Logger.MaxBackups)
	assert.Equal(t, 8, bc.Scheduler.Pools["default"])
	assert.Equal(t, 1, bc.Scheduler.Pools["api"])
	assert.Equal(t, 4096, bc.Fetch.ChunkSize)
	assert.Equal(t, "trove", bc.Fetch.Queues["api"].Headers["X-Client"])
	assert.Equal(t, "nutsdb", bc.Storage.DBType)
	assert.Equal(t, "native", bc.Storage.Driver)
	assert.Equal(t, 48*time.Hour, bc.Storage.MaxAge)
	assert.Equal(t, "brotli", bc.Storage.Compression["post_list"])
	assert.Equal(t, 30*time.Second, bc.ObjectCache.GracePeriod)
	assert.Equal(t, 25, bc.ObjectCache.MaxBatch)

	var dbc struct {
		SegmentSize int64 `yaml:"segment_size"`
	}
	require.NoError(t, bc.Storage.UnmarshalDBConfig(&dbc))
	assert.Equal(t, int64(1024), dbc.SegmentSize)
}

func TestParseQueuesReplaceDefaults(t *testing.T) {
	bc, err := Parse([]byte(`
fetch:
  queues:
    api:
      auth: false
`))
	require.NoError(t, err)
	require.Contains(t, bc.Fetch.Queues, "api")
	assert.False(t, bc.Fetch.Queues["api"].Auth)

	bc, err = Parse([]byte("logger:\n  level: warn\n"))
	require.NoError(t, err)
	assert.True(t, bc.Fetch.Queues["api"].Auth, "built-in queues apply when the file has none")
	assert.True(t, Default().Fetch.Queues["api"].Auth)
}

func TestParseRejectsEmptyPool(t *testing.T) {
	_, err := Parse([]byte(`
scheduler:
  pools:
    fast: -1
`))
	assert.ErrorContains(t, err, "scheduler.pools.fast")
}

func TestLoadMissingFile(t *testing.T) {
	bc, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), bc)
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Bootstrap, 4)
	require.NoError(t, Watch(ctx, path, func(bc *Bootstrap) { got <- bc }))

	require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: warn\n"), 0o644))

	select {
	case bc := <-got:
		assert.Equal(t, "warn", bc.Logger.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}
