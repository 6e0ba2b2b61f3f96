package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	storagev1 "github.com/omalloc/trove/api/defined/v1/storage"
	"github.com/omalloc/trove/conf"
	"github.com/omalloc/trove/contrib/log"
	"github.com/omalloc/trove/storage/bucket/disk"
	"github.com/omalloc/trove/storage/bucket/memory"
	"github.com/omalloc/trove/storage/indexdb"
	_ "github.com/omalloc/trove/storage/indexdb/badger"
	_ "github.com/omalloc/trove/storage/indexdb/nutsdb"
	_ "github.com/omalloc/trove/storage/indexdb/pebble"
	"github.com/omalloc/trove/storage/sharedkv"
)

const (
	DriverNative = "native"
	DriverMemory = "memory"
)

// bucketMap holds the file area factories by driver name.
var bucketMap = map[string]func(root string) (*disk.Bucket, error){
	DriverNative: disk.New,
	"disk":       disk.New, // disk is an alias of native
	DriverMemory: memory.New,
}

type storeOption struct {
	Path     string
	Driver   string
	DBType   string
	DBPath   string
	DBConfig map[string]any
}

func mergeConfig(config *conf.Storage) (*storeOption, error) {
	if config == nil {
		return nil, errors.New("storage config is required")
	}
	opt := &storeOption{
		Path:     config.Path,
		Driver:   config.Driver,
		DBType:   config.DBType,
		DBPath:   config.DBPath,
		DBConfig: config.DBConfig,
	}

	if opt.Path == "" {
		return nil, errors.New("storage path is required")
	}
	if opt.Driver == "" {
		opt.Driver = DriverNative
	}
	if opt.DBType == "" {
		opt.DBType = "pebble"
	}

	if opt.Driver == DriverMemory {
		opt.DBPath = indexdb.TypeInMemory
		// nutsdb has no memory mode
		if opt.DBType == "nutsdb" {
			opt.DBType = "pebble"
		}
		return opt, nil
	}

	if opt.DBPath == "" {
		opt.DBPath = ".indexdb"
	}
	if !filepath.IsAbs(opt.DBPath) {
		opt.DBPath = filepath.Join(opt.Path, opt.DBPath)
	}
	return opt, nil
}

// New builds the persistent cache store described by config.
func New(config *conf.Storage, logger log.Logger) (storagev1.Store, error) {
	opt, err := mergeConfig(config)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.GetLogger()
	}

	factory, ok := bucketMap[opt.Driver]
	if !ok {
		return nil, fmt.Errorf("storage driver %q not found", opt.Driver)
	}
	bucket, err := factory(opt.Path)
	if err != nil {
		return nil, err
	}

	var kv storagev1.SharedKV
	if opt.Driver == DriverMemory {
		kv = sharedkv.NewMemSharedKV()
	} else {
		if err := os.MkdirAll(opt.DBPath, 0o755); err != nil {
			return nil, fmt.Errorf("create indexdb path: %w", err)
		}
		kv, err = sharedkv.NewStoreSharedKV(filepath.Join(filepath.Dir(opt.DBPath), ".sharedkv"))
		if err != nil {
			return nil, fmt.Errorf("open sharedkv: %w", err)
		}
	}

	db, err := indexdb.Create(opt.DBType, indexdb.NewOption(opt.DBPath,
		indexdb.WithDBConfig(opt.DBConfig),
		indexdb.WithLogger(log.NewFilter(logger, log.FilterLevel(log.LevelWarn))),
	))
	if err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("create %s indexdb at %s: %w", opt.DBType, opt.DBPath, err)
	}

	return newStore(bucket, db, kv, logger), nil
}
