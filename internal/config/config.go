// Package config loads server and CLI configuration from a YAML file, MWEM_*
// environment variables and built-in defaults.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/inferloop/mwem/internal/observability/metrics"
	"github.com/inferloop/mwem/pkg/constants"
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/interfaces"
)

// Config is the complete process configuration
type Config struct {
	Server  ServerConfig             `mapstructure:"server"`
	Log     LogConfig                `mapstructure:"log"`
	MWEM    MWEMConfig               `mapstructure:"mwem"`
	Storage interfaces.StorageConfig `mapstructure:"storage"`
	Metrics metrics.PrometheusConfig `mapstructure:"metrics"`
	Trace   TraceConfig              `mapstructure:"trace"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxRequestSize  int64         `mapstructure:"max_request_size"`
	EnableTLS       bool          `mapstructure:"enable_tls"`
	TLSCert         string        `mapstructure:"tls_cert"`
	TLSKey          string        `mapstructure:"tls_key"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MWEMConfig holds the defaults applied to release requests that omit them
type MWEMConfig struct {
	Epsilon    float64 `mapstructure:"epsilon"`
	Iterations int     `mapstructure:"iterations"`
	Workers    int     `mapstructure:"workers"`
	// Seed makes every run reproducible when non-zero. For testing only.
	Seed uint64 `mapstructure:"seed"`
}

// TraceConfig selects where per-iteration outputs are published while a run is in progress
type TraceConfig struct {
	Backend      string `mapstructure:"backend"` // "", "redis" or "influxdb"
	URL          string `mapstructure:"url"`
	Token        string `mapstructure:"token"`
	Organization string `mapstructure:"organization"`
	Bucket       string `mapstructure:"bucket"`
	Measurement  string `mapstructure:"measurement"`
	StreamMaxLen int64  `mapstructure:"stream_max_len"`
}

// Load reads configuration. An empty cfgFile skips the file and uses defaults and
// environment only.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig, "Failed to read config file").
				WithContext("path", cfgFile)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig, "Failed to decode config")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	config, err := Load("")
	if err != nil {
		// defaults always validate
		panic(err)
	}
	return config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", constants.DefaultHost)
	v.SetDefault("server.port", constants.DefaultPort)
	v.SetDefault("server.read_timeout", constants.DefaultReadTimeout)
	v.SetDefault("server.write_timeout", constants.DefaultWriteTimeout)
	v.SetDefault("server.idle_timeout", constants.DefaultIdleTimeout)
	v.SetDefault("server.shutdown_timeout", constants.DefaultShutdownTimeout)
	v.SetDefault("server.max_request_size", constants.DefaultMaxRequestSize)
	v.SetDefault("server.enable_tls", false)
	v.SetDefault("server.tls_cert", "")
	v.SetDefault("server.tls_key", "")

	v.SetDefault("log.level", constants.DefaultLogLevel)
	v.SetDefault("log.format", constants.DefaultLogFormat)

	v.SetDefault("mwem.epsilon", constants.DefaultEpsilon)
	v.SetDefault("mwem.iterations", constants.DefaultIterations)
	v.SetDefault("mwem.workers", constants.DefaultWorkers)
	v.SetDefault("mwem.seed", 0)

	v.SetDefault("storage.type", constants.DefaultStorageType)
	v.SetDefault("storage.connection_string", "")
	v.SetDefault("storage.path", constants.DefaultStoragePath)
	v.SetDefault("storage.database", "")
	v.SetDefault("storage.username", "")
	v.SetDefault("storage.password", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.timeout", constants.DefaultStorageTimeout)
	v.SetDefault("storage.max_connections", constants.DefaultMaxConnections)
	v.SetDefault("storage.ttl", 0)

	defaults := metrics.DefaultPrometheusConfig()
	v.SetDefault("metrics.enabled", defaults.Enabled)
	v.SetDefault("metrics.port", defaults.Port)
	v.SetDefault("metrics.path", defaults.Path)
	v.SetDefault("metrics.namespace", defaults.Namespace)
	v.SetDefault("metrics.subsystem", defaults.Subsystem)
	v.SetDefault("metrics.enable_runtime", defaults.EnableRuntime)

	v.SetDefault("trace.backend", "")
	v.SetDefault("trace.url", "")
	v.SetDefault("trace.token", "")
	v.SetDefault("trace.organization", "")
	v.SetDefault("trace.bucket", constants.DefaultTraceBucket)
	v.SetDefault("trace.measurement", constants.DefaultTraceMeasurement)
	v.SetDefault("trace.stream_max_len", 10000)
}

// Validate checks the configuration for values the server cannot run with
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.NewAppError(errors.ErrorTypeConfiguration, errors.CodeInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return invalid("server.port must be in [1, 65535], got %d", c.Server.Port)
	}
	if c.Server.MaxRequestSize <= 0 {
		return invalid("server.max_request_size must be positive, got %d", c.Server.MaxRequestSize)
	}
	if c.Server.EnableTLS && (c.Server.TLSCert == "" || c.Server.TLSKey == "") {
		return invalid("server.tls_cert and server.tls_key are required when TLS is enabled")
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid("log.format must be json or text, got %q", c.Log.Format)
	}

	if math.IsNaN(c.MWEM.Epsilon) || math.IsInf(c.MWEM.Epsilon, 0) || c.MWEM.Epsilon <= 0 {
		return invalid("mwem.epsilon must be positive and finite, got %v", c.MWEM.Epsilon)
	}
	if c.MWEM.Iterations <= 0 || c.MWEM.Iterations > constants.MaxIterations {
		return invalid("mwem.iterations must be in [1, %d], got %d", constants.MaxIterations, c.MWEM.Iterations)
	}
	if c.MWEM.Workers < 0 {
		return invalid("mwem.workers must be non-negative, got %d", c.MWEM.Workers)
	}

	switch c.Storage.Type {
	case constants.StorageTypeMemory, constants.StorageTypeFile, constants.StorageTypeRedis,
		constants.StorageTypeS3, constants.StorageTypePostgres:
	default:
		return invalid("storage.type %q is not supported", c.Storage.Type)
	}
	if c.Storage.Type == constants.StorageTypeS3 && c.Storage.Bucket == "" {
		return invalid("storage.bucket is required for s3 storage")
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return invalid("metrics.port must be in [1, 65535], got %d", c.Metrics.Port)
	}

	switch c.Trace.Backend {
	case "":
	case "influxdb":
		if c.Trace.URL == "" {
			return invalid("trace.url is required for the influxdb trace backend")
		}
	case constants.StorageTypeRedis:
		if c.Trace.URL == "" && c.Storage.Type != constants.StorageTypeRedis {
			return invalid("trace.url is required for the redis trace backend unless storage.type is redis")
		}
	default:
		return invalid("trace.backend %q is not supported", c.Trace.Backend)
	}

	return nil
}
