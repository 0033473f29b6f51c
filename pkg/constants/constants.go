package constants

import "time"

// Application constants
const (
	// Application metadata
	AppName        = "mwem-server"
	AppDescription = "Differentially private range-query release service"
	AppVersion     = "0.1.0"

	// API constants
	APIVersion = "v1"
	APIPrefix  = "/api/v1"

	// Default configuration values
	DefaultPort            = 8080
	DefaultMetricsPort     = 9090
	DefaultHost            = "0.0.0.0"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxRequestSize  = 32 << 20

	// MWEM defaults
	DefaultEpsilon    = 1.0
	DefaultIterations = 10
	DefaultDelta      = 1e-5
	DefaultWorkers    = 0 // runtime.NumCPU()

	// Limits on caller-supplied parameters
	MaxDomainSize   = 1 << 22
	MaxIterations   = 10000
	MaxWorkloadSize = 100000
	MaxSampleCount  = 1000000
	DefaultPageSize = 100
	MaxPageSize     = 1000

	// Storage defaults
	DefaultStorageType      = StorageTypeFile
	DefaultStoragePath      = "./data/releases"
	DefaultStorageTimeout   = 30 * time.Second
	DefaultMaxConnections   = 10
	DefaultRedisKeyPrefix   = "mwem"
	DefaultS3Prefix         = "mwem"
	DefaultPostgresTable    = "mwem_releases"
	DefaultTraceBucket      = "mwem"
	DefaultTraceMeasurement = "mwem_iteration"
)

// Storage backends
const (
	StorageTypeMemory   = "memory"
	StorageTypeFile     = "file"
	StorageTypeRedis    = "redis"
	StorageTypeS3       = "s3"
	StorageTypePostgres = "postgres"
)

// Run statuses
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// MIME types
const (
	MimeTypeJSON = "application/json"
	MimeTypeCSV  = "text/csv"
)

// Environment variables
const (
	EnvPrefix      = "MWEM"
	EnvLogLevel    = "MWEM_LOG_LEVEL"
	EnvStorageType = "MWEM_STORAGE_TYPE"
)

// HTTP headers
const (
	HeaderContentType  = "Content-Type"
	HeaderRequestID    = "X-Request-ID"
	HeaderForwardedFor = "X-Forwarded-For"
	HeaderRealIP       = "X-Real-IP"
)
