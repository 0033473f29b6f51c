// Package service publishes MWEM releases and answers queries against stored ones.
package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/mwem/internal/generators/mwem"
	"github.com/inferloop/mwem/internal/privacy"
	"github.com/inferloop/mwem/pkg/constants"
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/interfaces"
	"github.com/inferloop/mwem/pkg/models"
)

// Recorder receives service metrics. *metrics.PrometheusMetrics implements it.
type Recorder interface {
	RecordRun(status string, iterations int, epsilon float64, duration time.Duration)
	RecordError(code string)
	RecordStorageOperation(backend, operation, status string, duration time.Duration)
}

// Config contains release service configuration
type Config struct {
	Workers           int     `json:"workers" mapstructure:"workers"`
	DefaultEpsilon    float64 `json:"default_epsilon" mapstructure:"default_epsilon"`
	DefaultIterations int     `json:"default_iterations" mapstructure:"default_iterations"`
	StorageType       string  `json:"storage_type" mapstructure:"storage_type"`
}

// ReleaseRequest asks for a new release. Values is the private dataset; it is used
// for the run and then discarded. Epsilon and Iterations fall back to the service
// defaults when nil.
type ReleaseRequest struct {
	Name       string            `json:"name,omitempty"`
	DomainSize int               `json:"domain_size"`
	Values     []int             `json:"values"`
	Workload   []models.Query    `json:"workload"`
	Epsilon    *float64          `json:"epsilon,omitempty"`
	Iterations *int              `json:"iterations,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
}

// ReleaseService runs MWEM and manages the published releases
type ReleaseService struct {
	config  *Config
	store   interfaces.ReleaseStore
	noise   privacy.NoiseSource
	sinks   []interfaces.TraceSink
	metrics Recorder
	logger  *logrus.Logger
	now     func() time.Time
}

// NewReleaseService creates a release service. noise is forked per run when it
// implements privacy.Forker.
func NewReleaseService(config *Config, store interfaces.ReleaseStore, noise privacy.NoiseSource, logger *logrus.Logger) (*ReleaseService, error) {
	if store == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidConfig, "release store is required")
	}
	if noise == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidConfig, "noise source is required")
	}

	if config == nil {
		config = &Config{}
	}
	if config.DefaultEpsilon <= 0 {
		config.DefaultEpsilon = constants.DefaultEpsilon
	}
	if config.DefaultIterations <= 0 {
		config.DefaultIterations = constants.DefaultIterations
	}
	if config.StorageType == "" {
		config.StorageType = "unknown"
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &ReleaseService{
		config: config,
		store:  store,
		noise:  noise,
		logger: logger,
		now:    time.Now,
	}, nil
}

// SetMetrics sets the metrics recorder
func (s *ReleaseService) SetMetrics(recorder Recorder) {
	s.metrics = recorder
}

// AddTraceSink publishes every iteration of future runs to sink
func (s *ReleaseService) AddTraceSink(sink interfaces.TraceSink) {
	s.sinks = append(s.sinks, sink)
}

// CreateRelease runs MWEM on the request and persists the resulting release
func (s *ReleaseService) CreateRelease(ctx context.Context, req *ReleaseRequest) (*models.Release, error) {
	release, err := s.createRelease(ctx, req)
	if err != nil {
		s.recordError(err)
	}
	return release, err
}

func (s *ReleaseService) createRelease(ctx context.Context, req *ReleaseRequest) (*models.Release, error) {
	if req == nil {
		return nil, errors.NewValidationError(errors.CodeMissingField, "release request is required")
	}

	epsilon := s.config.DefaultEpsilon
	if req.Epsilon != nil {
		epsilon = *req.Epsilon
	}
	iterations := s.config.DefaultIterations
	if req.Iterations != nil {
		iterations = *req.Iterations
	}

	if err := validateLimits(req, iterations); err != nil {
		return nil, err
	}

	domain, err := mwem.NewDomain(req.DomainSize)
	if err != nil {
		return nil, err
	}
	data, err := mwem.NewDataset(domain, req.Values)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	logger := s.logger.WithField("release_id", id)

	generator := mwem.NewGenerator(&mwem.Config{Workers: s.config.Workers}, s.runNoise(), s.logger)
	for _, sink := range s.sinks {
		generator.AddObserver(traceObserver(sink, id))
	}

	createdAt := s.now().UTC()
	start := time.Now()
	result, err := generator.Run(ctx, data, req.Workload, iterations, epsilon)
	if err != nil {
		s.recordRun(constants.RunStatusFailed, iterations, 0, time.Since(start))
		logger.WithError(err).Warn("MWEM run failed")
		return nil, err
	}

	release := &models.Release{
		ID:          id,
		Name:        req.Name,
		CreatedAt:   createdAt,
		DomainSize:  domain.Size(),
		RecordCount: data.Len(),
		Epsilon:     epsilon,
		Iterations:  iterations,
		Workload:    append([]models.Query(nil), req.Workload...),
		Trace:       result.Trace,
		Budget:      result.Budget,
		Weights:     result.Distribution.Weights(),
		Labels:      req.Labels,
	}

	if err := s.timed("save", func() error { return s.store.Save(ctx, release) }); err != nil {
		s.recordRun(constants.RunStatusFailed, iterations, 0, time.Since(start))
		return nil, err
	}

	s.recordRun(constants.RunStatusCompleted, iterations, result.Budget.ConsumedEpsilon, result.Duration)
	logger.WithFields(logrus.Fields{
		"domain_size": release.DomainSize,
		"iterations":  release.Iterations,
		"epsilon":     release.Epsilon,
	}).Info("Release published")

	return release, nil
}

// GetRelease loads a stored release
func (s *ReleaseService) GetRelease(ctx context.Context, id string) (*models.Release, error) {
	var release *models.Release
	err := s.timed("load", func() error {
		var err error
		release, err = s.store.Load(ctx, id)
		return err
	})
	if err != nil {
		s.recordError(err)
		return nil, err
	}
	return release, nil
}

// ListReleases lists stored releases, newest first
func (s *ReleaseService) ListReleases(ctx context.Context, filter *interfaces.ReleaseFilter) ([]models.ReleaseSummary, error) {
	if filter != nil && (filter.Limit < 0 || filter.Offset < 0) {
		return nil, errors.NewValidationError(errors.CodeOutOfRange, "limit and offset must be non-negative")
	}
	if filter != nil && filter.Limit > constants.MaxPageSize {
		clamped := *filter
		clamped.Limit = constants.MaxPageSize
		filter = &clamped
	}

	var summaries []models.ReleaseSummary
	err := s.timed("list", func() error {
		var err error
		summaries, err = s.store.List(ctx, filter)
		return err
	})
	if err != nil {
		s.recordError(err)
		return nil, err
	}
	return summaries, nil
}

// DeleteRelease removes a stored release
func (s *ReleaseService) DeleteRelease(ctx context.Context, id string) error {
	err := s.timed("delete", func() error { return s.store.Delete(ctx, id) })
	if err != nil {
		s.recordError(err)
		return err
	}
	s.logger.WithField("release_id", id).Info("Release deleted")
	return nil
}

// Answer estimates the count of q from a stored release. Answering is
// post-processing and spends no privacy budget.
func (s *ReleaseService) Answer(ctx context.Context, id string, q models.Query) (float64, error) {
	distribution, err := s.distribution(ctx, id)
	if err != nil {
		return 0, err
	}

	answer, err := distribution.Answer(q)
	if err != nil {
		s.recordError(err)
		return 0, err
	}
	return answer, nil
}

// Sample draws count synthetic records from a stored release. A nil seed uses a
// fresh random stream.
func (s *ReleaseService) Sample(ctx context.Context, id string, count int, seed *uint64) ([]int, error) {
	if count < 0 || count > constants.MaxSampleCount {
		err := errors.NewValidationError(errors.CodeOutOfRange,
			fmt.Sprintf("sample count must be in [0, %d], got %d", constants.MaxSampleCount, count))
		s.recordError(err)
		return nil, err
	}

	distribution, err := s.distribution(ctx, id)
	if err != nil {
		return nil, err
	}

	var src rand.Source
	if seed != nil {
		src = rand.NewPCG(*seed, *seed)
	} else {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}

	records, err := distribution.Sample(count, src)
	if err != nil {
		s.recordError(err)
		return nil, err
	}
	return records, nil
}

// Health reports the release store health
func (s *ReleaseService) Health(ctx context.Context) (*interfaces.HealthStatus, error) {
	return s.store.Health(ctx)
}

func (s *ReleaseService) distribution(ctx context.Context, id string) (mwem.Distribution, error) {
	release, err := s.GetRelease(ctx, id)
	if err != nil {
		return mwem.Distribution{}, err
	}
	return DistributionOf(release)
}

// DistributionOf rebuilds the released distribution from a release
func DistributionOf(release *models.Release) (mwem.Distribution, error) {
	domain, err := mwem.NewDomain(release.DomainSize)
	if err != nil {
		return mwem.Distribution{}, err
	}
	return mwem.NewDistribution(domain, release.Weights, float64(release.RecordCount))
}

func (s *ReleaseService) runNoise() privacy.NoiseSource {
	if forker, ok := s.noise.(privacy.Forker); ok {
		return forker.Fork()
	}
	return s.noise
}

func (s *ReleaseService) timed(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	if s.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordStorageOperation(s.config.StorageType, operation, status, time.Since(start))
	}
	return err
}

func (s *ReleaseService) recordRun(status string, iterations int, epsilon float64, duration time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordRun(status, iterations, epsilon, duration)
	}
}

func (s *ReleaseService) recordError(err error) {
	if s.metrics != nil {
		s.metrics.RecordError(errors.Code(err))
	}
}

func validateLimits(req *ReleaseRequest, iterations int) error {
	if req.DomainSize > constants.MaxDomainSize {
		return errors.NewValidationError(errors.CodeOutOfRange,
			fmt.Sprintf("domain size %d exceeds limit %d", req.DomainSize, constants.MaxDomainSize))
	}
	if len(req.Workload) > constants.MaxWorkloadSize {
		return errors.NewValidationError(errors.CodeOutOfRange,
			fmt.Sprintf("workload of %d queries exceeds limit %d", len(req.Workload), constants.MaxWorkloadSize))
	}
	if iterations > constants.MaxIterations {
		return errors.InvalidBudget("iteration count %d exceeds limit %d", iterations, constants.MaxIterations)
	}
	return nil
}

func traceObserver(sink interfaces.TraceSink, releaseID string) mwem.Observer {
	return mwem.ObserverFunc(func(ctx context.Context, state mwem.IterationState) error {
		return sink.Publish(ctx, releaseID, state.Record)
	})
}
