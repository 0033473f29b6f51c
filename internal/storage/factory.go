package storage

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/mwem/internal/storage/implementations/file"
	"github.com/inferloop/mwem/internal/storage/implementations/memory"
	"github.com/inferloop/mwem/internal/storage/implementations/postgres"
	"github.com/inferloop/mwem/internal/storage/implementations/redis"
	"github.com/inferloop/mwem/internal/storage/implementations/s3"
	"github.com/inferloop/mwem/pkg/constants"
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/interfaces"
)

// Factory implements the StorageFactory interface
type Factory struct {
	creators map[string]interfaces.StorageCreateFunc
	mu       sync.RWMutex
	logger   *logrus.Logger
}

// NewFactory creates a new storage factory with the built-in release stores registered
func NewFactory(logger *logrus.Logger) *Factory {
	if logger == nil {
		logger = logrus.New()
	}

	factory := &Factory{
		creators: make(map[string]interfaces.StorageCreateFunc),
		logger:   logger,
	}

	// Register default storage types
	factory.registerDefaults()

	return factory
}

// CreateStorage creates a new storage instance
func (f *Factory) CreateStorage(storageType string, config interfaces.StorageConfig) (interfaces.ReleaseStore, error) {
	f.mu.RLock()
	createFunc, exists := f.creators[storageType]
	f.mu.RUnlock()

	if !exists {
		return nil, errors.NewStorageError("UNSUPPORTED_TYPE", fmt.Sprintf("Storage type '%s' is not supported", storageType)).
			WithContext("supported", f.GetSupportedTypes())
	}

	store, err := createFunc(config)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "CREATION_FAILED", fmt.Sprintf("Failed to create %s storage", storageType))
	}

	f.logger.WithFields(logrus.Fields{
		"storage_type": storageType,
	}).Info("Created storage instance")

	return store, nil
}

// GetSupportedTypes returns all supported storage types, sorted
func (f *Factory) GetSupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.creators))
	for storageType := range f.creators {
		types = append(types, storageType)
	}
	sort.Strings(types)

	return types
}

// RegisterStorage registers a new storage type
func (f *Factory) RegisterStorage(storageType string, createFunc interfaces.StorageCreateFunc) error {
	if storageType == "" {
		return errors.NewValidationError("INVALID_TYPE", "Storage type cannot be empty")
	}

	if createFunc == nil {
		return errors.NewValidationError("INVALID_CREATOR", "Storage create function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.creators[storageType] = createFunc

	f.logger.WithFields(logrus.Fields{
		"storage_type": storageType,
	}).Debug("Registered storage type")

	return nil
}

// IsSupported checks if a storage type is supported
func (f *Factory) IsSupported(storageType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, exists := f.creators[storageType]
	return exists
}

// registerDefaults registers the default storage implementations
func (f *Factory) registerDefaults() {
	f.RegisterStorage(constants.StorageTypeMemory, func(config interfaces.StorageConfig) (interfaces.ReleaseStore, error) {
		return memory.NewMemoryStorage(f.logger), nil
	})

	f.RegisterStorage(constants.StorageTypeFile, func(config interfaces.StorageConfig) (interfaces.ReleaseStore, error) {
		path := config.Path
		if path == "" {
			path = constants.DefaultStoragePath
		}
		return file.NewFileStorage(&file.FileStorageConfig{
			BasePath:   path,
			CreateDirs: true,
			SyncWrites: true,
		}, f.logger)
	})

	f.RegisterStorage(constants.StorageTypeRedis, func(config interfaces.StorageConfig) (interfaces.ReleaseStore, error) {
		timeout := orDefault(config.Timeout, constants.DefaultStorageTimeout)
		poolSize := config.MaxConnections
		if poolSize <= 0 {
			poolSize = constants.DefaultMaxConnections
		}

		redisConfig := &redis.RedisConfig{
			Addr:         config.ConnectionString,
			Password:     config.Password,
			DialTimeout:  timeout,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
			PoolSize:     poolSize,
			MinIdleConns: poolSize / 4,
			MaxRetries:   3,
			IdleTimeout:  5 * time.Minute,
			TTL:          config.TTL,
			KeyPrefix:    config.Prefix,
		}
		if redisConfig.KeyPrefix == "" {
			redisConfig.KeyPrefix = constants.DefaultRedisKeyPrefix
		}
		if config.Database != "" {
			db, err := strconv.Atoi(config.Database)
			if err != nil {
				return nil, errors.NewValidationError(errors.CodeInvalidConfig, fmt.Sprintf("Redis database must be a number, got %q", config.Database))
			}
			redisConfig.DB = db
		}
		// Default addr if not provided
		if redisConfig.Addr == "" {
			redisConfig.Addr = "localhost:6379"
		}
		return redis.NewRedisStorage(redisConfig, f.logger)
	})

	f.RegisterStorage(constants.StorageTypeS3, func(config interfaces.StorageConfig) (interfaces.ReleaseStore, error) {
		region := config.Region
		if region == "" {
			region = "us-east-1"
		}
		prefix := config.Prefix
		if prefix == "" {
			prefix = constants.DefaultS3Prefix
		}
		return s3.NewS3Storage(&s3.S3Config{
			Region:          region,
			Bucket:          config.Bucket,
			AccessKeyID:     config.Username,
			SecretAccessKey: config.Password,
			Endpoint:        config.Endpoint,
			ForcePathStyle:  config.Endpoint != "",
			Prefix:          prefix,
			Timeout:         orDefault(config.Timeout, constants.DefaultStorageTimeout),
			MaxRetries:      3,
			PartSize:        16 * 1024 * 1024, // 16MB
			UseCompression:  true,
		}, f.logger)
	})

	f.RegisterStorage(constants.StorageTypePostgres, func(config interfaces.StorageConfig) (interfaces.ReleaseStore, error) {
		maxConns := config.MaxConnections
		if maxConns <= 0 {
			maxConns = constants.DefaultMaxConnections
		}
		return postgres.NewPostgresStorage(&postgres.PostgresConfig{
			ConnectionString: config.ConnectionString,
			Database:         config.Database,
			Username:         config.Username,
			Password:         config.Password,
			Table:            config.Prefix,
			ConnectTimeout:   orDefault(config.Timeout, constants.DefaultStorageTimeout),
			QueryTimeout:     orDefault(config.Timeout, constants.DefaultStorageTimeout),
			MaxConnections:   maxConns,
			MaxIdleConns:     maxConns / 2,
			ConnMaxLifetime:  time.Hour,
		}, f.logger)
	})
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
