package app

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/mwem/internal/config"
	"github.com/inferloop/mwem/internal/service"
	"github.com/inferloop/mwem/pkg/constants"
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Storage.Type = constants.StorageTypeMemory
	cfg.MWEM.Seed = 17
	return cfg
}

func TestNewBuildsWorkingService(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(), quietLogger())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Service)
	require.NotNil(t, a.Metrics)

	release, err := a.Service.CreateRelease(ctx, &service.ReleaseRequest{
		DomainSize: 8,
		Values:     []int{1, 2, 2, 6},
		Workload:   []models.Query{{Lower: 0, Upper: 4}, {Lower: 4, Upper: 8}},
	})
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultIterations, release.Iterations)

	loaded, err := a.Store.Load(ctx, release.ID)
	require.NoError(t, err)
	assert.Equal(t, release.Weights, loaded.Weights)
}

func TestFixedSeedMakesRunsReproducible(t *testing.T) {
	ctx := context.Background()
	req := &service.ReleaseRequest{
		DomainSize: 16,
		Values:     []int{1, 3, 3, 9, 12, 12, 12},
		Workload:   []models.Query{{Lower: 0, Upper: 8}, {Lower: 8, Upper: 16}, {Lower: 2, Upper: 5}},
	}

	run := func() *models.Release {
		a, err := New(ctx, memoryConfig(), quietLogger())
		require.NoError(t, err)
		defer a.Close()
		release, err := a.Service.CreateRelease(ctx, req)
		require.NoError(t, err)
		return release
	}

	first, second := run(), run()
	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.Weights, second.Weights)
}

func TestNewRejectsUnknownBackends(t *testing.T) {
	ctx := context.Background()

	cfg := memoryConfig()
	cfg.Storage.Type = "tape"
	_, err := New(ctx, cfg, quietLogger())
	assert.Error(t, err)

	cfg = memoryConfig()
	cfg.Trace.Backend = "kafka"
	_, err = New(ctx, cfg, quietLogger())
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidConfig, errors.Code(err))

	cfg = memoryConfig()
	cfg.Trace.Backend = constants.StorageTypeRedis
	_, err = New(ctx, cfg, quietLogger())
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidConfig, errors.Code(err))
}

func TestCloseIsIdempotent(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), quietLogger())
	require.NoError(t, err)
	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}
