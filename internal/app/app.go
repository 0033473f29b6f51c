// Package app assembles the release service from configuration.
package app

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/mwem/internal/config"
	"github.com/inferloop/mwem/internal/observability/metrics"
	"github.com/inferloop/mwem/internal/privacy"
	"github.com/inferloop/mwem/internal/service"
	"github.com/inferloop/mwem/internal/storage"
	"github.com/inferloop/mwem/internal/storage/implementations/influxdb"
	"github.com/inferloop/mwem/internal/storage/implementations/redis"
	"github.com/inferloop/mwem/pkg/constants"
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/interfaces"
)

// App holds the connected collaborators of a running release service
type App struct {
	Config  *config.Config
	Store   interfaces.ReleaseStore
	Service *service.ReleaseService
	Metrics *metrics.PrometheusMetrics

	logger  *logrus.Logger
	closers []func() error
}

// New connects the configured release store and trace backend and builds the
// release service. Metrics are created but not served; call Metrics.Start for that.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logrus.New()
	}

	a := &App{Config: cfg, logger: logger}

	store, err := storage.NewFactory(logger).CreateStorage(cfg.Storage.Type, cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := store.Connect(ctx); err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	noise, err := newNoise(cfg.MWEM.Seed, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	svc, err := service.NewReleaseService(&service.Config{
		Workers:           cfg.MWEM.Workers,
		DefaultEpsilon:    cfg.MWEM.Epsilon,
		DefaultIterations: cfg.MWEM.Iterations,
		StorageType:       cfg.Storage.Type,
	}, store, noise, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Service = svc

	sink, err := a.traceSink(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	if sink != nil {
		svc.AddTraceSink(sink)
	}

	promMetrics, err := metrics.NewPrometheusMetrics(&cfg.Metrics, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Metrics = promMetrics
	svc.SetMetrics(promMetrics)

	logger.WithFields(logrus.Fields{
		"storage": cfg.Storage.Type,
		"trace":   cfg.Trace.Backend,
	}).Info("Release service ready")

	return a, nil
}

// Close releases every connection opened by New, in reverse order
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Warn("Failed to close resource")
			if first == nil {
				first = err
			}
		}
	}
	a.closers = nil
	return first
}

func (a *App) traceSink(ctx context.Context) (interfaces.TraceSink, error) {
	cfg := a.Config.Trace

	switch cfg.Backend {
	case "":
		return nil, nil

	case "influxdb":
		writer, err := influxdb.NewTraceWriter(&influxdb.InfluxDBConfig{
			URL:          cfg.URL,
			Token:        cfg.Token,
			Organization: cfg.Organization,
			Bucket:       cfg.Bucket,
			Measurement:  cfg.Measurement,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		if err := writer.Connect(ctx); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, writer.Close)
		return writer, nil

	case constants.StorageTypeRedis:
		if cfg.URL == "" {
			if store, ok := a.Store.(*redis.RedisStorage); ok {
				return redis.NewTraceStream(store, cfg.StreamMaxLen), nil
			}
			return nil, errors.NewAppError(errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
				"trace.url is required for the redis trace backend")
		}

		store, err := redis.NewRedisStorage(&redis.RedisConfig{
			Addr:      cfg.URL,
			Password:  cfg.Token,
			KeyPrefix: constants.DefaultRedisKeyPrefix,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		if err := store.Connect(ctx); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return redis.NewTraceStream(store, cfg.StreamMaxLen), nil

	default:
		return nil, errors.NewAppError(errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
			"unsupported trace backend "+cfg.Backend)
	}
}

func newNoise(seed uint64, logger *logrus.Logger) (privacy.NoiseSource, error) {
	if seed != 0 {
		logger.WithField("seed", seed).Warn("Using a fixed noise seed; releases are reproducible and not private")
		return privacy.NewSeededNoise(seed), nil
	}
	return privacy.NewNoise()
}
