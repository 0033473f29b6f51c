package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/mwem/pkg/constants"
	"github.com/inferloop/mwem/pkg/errors"
)

func TestLoadDefaults(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultPort, config.Server.Port)
	assert.Equal(t, constants.DefaultReadTimeout, config.Server.ReadTimeout)
	assert.Equal(t, constants.DefaultEpsilon, config.MWEM.Epsilon)
	assert.Equal(t, constants.DefaultIterations, config.MWEM.Iterations)
	assert.Equal(t, constants.StorageTypeFile, config.Storage.Type)
	assert.Equal(t, constants.DefaultStoragePath, config.Storage.Path)
	assert.Equal(t, "mwem", config.Metrics.Namespace)
	assert.Empty(t, config.Trace.Backend)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mwem.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
  read_timeout: 5s
mwem:
  epsilon: 0.5
  iterations: 25
storage:
  type: redis
  connection_string: redis:6379
  ttl: 24h
trace:
  backend: redis
`), 0o644))

	t.Setenv("MWEM_MWEM_ITERATIONS", "40")
	t.Setenv("MWEM_LOG_LEVEL", "debug")

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, config.Server.Port)
	assert.Equal(t, 5*time.Second, config.Server.ReadTimeout)
	assert.Equal(t, 0.5, config.MWEM.Epsilon)
	assert.Equal(t, 40, config.MWEM.Iterations, "environment overrides the file")
	assert.Equal(t, "debug", config.Log.Level)
	assert.Equal(t, constants.StorageTypeRedis, config.Storage.Type)
	assert.Equal(t, 24*time.Hour, config.Storage.TTL)
	assert.Equal(t, "redis", config.Trace.Backend)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidConfig, errors.Code(err))
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad request size", func(c *Config) { c.Server.MaxRequestSize = 0 }},
		{"tls without cert", func(c *Config) { c.Server.EnableTLS = true }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"zero epsilon", func(c *Config) { c.MWEM.Epsilon = 0 }},
		{"too many iterations", func(c *Config) { c.MWEM.Iterations = constants.MaxIterations + 1 }},
		{"negative workers", func(c *Config) { c.MWEM.Workers = -1 }},
		{"unknown storage", func(c *Config) { c.Storage.Type = "weaviate" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = constants.StorageTypeS3 }},
		{"influx without url", func(c *Config) { c.Trace.Backend = "influxdb" }},
		{"redis trace without redis", func(c *Config) { c.Trace.Backend = "redis" }},
		{"unknown trace backend", func(c *Config) { c.Trace.Backend = "kafka" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := Default()
			tc.mutate(config)
			err := config.Validate()
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidConfig, errors.Code(err))
		})
	}

	assert.NoError(t, Default().Validate())
}
