package indexdb_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storagev1 "github.com/omalloc/trove/api/defined/v1/storage"
	"github.com/omalloc/trove/pkg/encoding"
	"github.com/omalloc/trove/storage/indexdb"
	_ "github.com/omalloc/trove/storage/indexdb/badger"
	_ "github.com/omalloc/trove/storage/indexdb/nutsdb"
	_ "github.com/omalloc/trove/storage/indexdb/pebble"
)

func TestIndexDBDrivers(t *testing.T) {
	cbor, err := encoding.Lookup("cbor")
	require.NoError(t, err)

	cases := []struct {
		name string
		path string
		opts []indexdb.OptionFunc
	}{
		{"pebble", filepath.Join(t.TempDir(), "pebble"), nil},
		{"pebble", indexdb.TypeInMemory, []indexdb.OptionFunc{indexdb.WithCodec(cbor)}},
		{"nutsdb", filepath.Join(t.TempDir(), "nutsdb"), []indexdb.OptionFunc{
			indexdb.WithDBConfig(map[string]any{"segment_size": 8 << 20}),
		}},
		{"badger", filepath.Join(t.TempDir(), "badger"), nil},
		{"badger", indexdb.TypeInMemory, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name+"/"+filepath.Base(tc.path), func(t *testing.T) {
			db, err := indexdb.Create(tc.name, indexdb.NewOption(tc.path, tc.opts...))
			require.NoError(t, err)
			defer db.Close()

			exerciseIndexDB(t, db)
		})
	}
}

func exerciseIndexDB(t *testing.T, db storagev1.IndexDB) {
	ctx := context.Background()

	_, err := db.Get(ctx, []byte("e/missing"))
	assert.ErrorIs(t, err, storagev1.ErrKeyNotFound)
	assert.False(t, db.Exist(ctx, []byte("e/missing")))

	md := &storagev1.Metadata{
		Locator:     "https://example.com/r/golang.json",
		Principal:   "ns",
		Category:    "post_list",
		Session:     uuid.New(),
		MimeType:    "application/json",
		Compression: storagev1.CompressionZstd,
		Generation:  2,
		Size:        1024,
		StoredSize:  200,
		CreatedUnix: 1700000000,
	}
	require.NoError(t, db.Set(ctx, []byte("e/1"), md))
	require.NoError(t, db.Set(ctx, []byte("e/2"), md))
	require.NoError(t, db.Set(ctx, []byte("l/1"), md))

	got, err := db.Get(ctx, []byte("e/1"))
	require.NoError(t, err)
	assert.Equal(t, md, got)
	assert.True(t, db.Exist(ctx, []byte("e/1")))

	var keys []string
	require.NoError(t, db.Iterate(ctx, []byte("e/"), func(key []byte, val *storagev1.Metadata) bool {
		keys = append(keys, string(key))
		assert.Equal(t, md.Session, val.Session)
		return true
	}))
	assert.Equal(t, []string{"e/1", "e/2"}, keys)

	var first int
	require.NoError(t, db.Iterate(ctx, nil, func([]byte, *storagev1.Metadata) bool {
		first++
		return false
	}))
	assert.Equal(t, 1, first)

	require.NoError(t, db.Delete(ctx, []byte("e/1")))
	_, err = db.Get(ctx, []byte("e/1"))
	assert.ErrorIs(t, err, storagev1.ErrKeyNotFound)

	assert.NoError(t, db.GC(ctx))
}

func TestCreateUnknown(t *testing.T) {
	_, err := indexdb.Create("leveldb", indexdb.NewOption(t.TempDir()))
	assert.Error(t, err)
}

func TestUpperBound(t *testing.T) {
	assert.Equal(t, []byte("e0"), indexdb.UpperBound([]byte("e/")))
	assert.Equal(t, []byte{0x02}, indexdb.UpperBound([]byte{0x01, 0xff}))
	assert.Nil(t, indexdb.UpperBound([]byte{0xff}))
}
