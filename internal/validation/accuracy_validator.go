// Package validation measures how well a release answers a workload compared to
// the true dataset. Reports are computed from private data and are diagnostics for
// the data owner, not releasable outputs.
package validation

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/mwem/internal/generators/mwem"
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/models"
)

// AccuracyValidator compares release answers with true range counts
type AccuracyValidator struct {
	logger *logrus.Logger
	config *AccuracyValidatorConfig
}

// AccuracyValidatorConfig contains configuration for accuracy validation
type AccuracyValidatorConfig struct {
	// MaxErrorFraction fails validation when the largest absolute error exceeds
	// this fraction of the record count. Zero disables the check.
	MaxErrorFraction float64 `json:"max_error_fraction" mapstructure:"max_error_fraction"`
	// IncludeQueries adds one QueryError per workload query to the report.
	IncludeQueries bool `json:"include_queries" mapstructure:"include_queries"`
}

// QueryError is the error of one workload query
type QueryError struct {
	Query    models.Query `json:"query"`
	True     float64      `json:"true"`
	Released float64      `json:"released"`
	AbsError float64      `json:"abs_error"`
}

// AccuracyReport summarises release error over a workload
type AccuracyReport struct {
	Queries      int           `json:"queries"`
	RecordCount  int           `json:"record_count"`
	MaxAbsError  float64       `json:"max_abs_error"`
	MeanAbsError float64       `json:"mean_abs_error"`
	RMSE         float64       `json:"rmse"`
	KSDistance   float64       `json:"ks_distance"`
	Passed       bool          `json:"passed"`
	PerQuery     []QueryError  `json:"per_query,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// NewAccuracyValidator creates a new accuracy validator
func NewAccuracyValidator(config *AccuracyValidatorConfig, logger *logrus.Logger) *AccuracyValidator {
	if config == nil {
		config = &AccuracyValidatorConfig{}
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &AccuracyValidator{
		logger: logger,
		config: config,
	}
}

// Validate answers every workload query from released and from the true data
func (v *AccuracyValidator) Validate(ctx context.Context, released mwem.Distribution, data *mwem.Dataset, workload []models.Query) (*AccuracyReport, error) {
	if data == nil {
		return nil, errors.NewValidationError(errors.CodeMissingField, "Dataset is required for accuracy validation")
	}
	if len(workload) == 0 {
		return nil, errors.EmptyWorkload()
	}
	if released.Domain().Size() != data.Domain().Size() {
		return nil, errors.NewValidationError(errors.CodeInvalidDomain, "Release and dataset domains differ").
			WithContext("release_domain", released.Domain().Size()).
			WithContext("dataset_domain", data.Domain().Size())
	}
	if err := data.Domain().ValidateWorkload(workload); err != nil {
		return nil, err
	}

	start := time.Now()

	absErrors := make([]float64, len(workload))
	report := &AccuracyReport{
		Queries:     len(workload),
		RecordCount: data.Len(),
	}
	if v.config.IncludeQueries {
		report.PerQuery = make([]QueryError, 0, len(workload))
	}

	for i, q := range workload {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		truth := float64(data.RangeCount(q))
		answer := released.RangeSum(q)
		absErrors[i] = math.Abs(answer - truth)

		if v.config.IncludeQueries {
			report.PerQuery = append(report.PerQuery, QueryError{Query: q, True: truth, Released: answer, AbsError: absErrors[i]})
		}
	}

	report.MaxAbsError = floats.Max(absErrors)
	report.MeanAbsError = stat.Mean(absErrors, nil)
	report.RMSE = math.Sqrt(floats.Dot(absErrors, absErrors) / float64(len(absErrors)))
	report.KSDistance = ksDistance(released, data)
	report.Passed = v.config.MaxErrorFraction <= 0 ||
		report.MaxAbsError <= v.config.MaxErrorFraction*float64(data.Len())
	report.Duration = time.Since(start)

	v.logger.WithFields(logrus.Fields{
		"queries":  report.Queries,
		"passed":   report.Passed,
		"duration": report.Duration,
	}).Debug("Accuracy validation completed")

	return report, nil
}

// ksDistance is the largest gap between the normalised cumulative distributions
// of the release and the dataset
func ksDistance(released mwem.Distribution, data *mwem.Dataset) float64 {
	n := float64(data.Len())
	total := released.Total()
	if n == 0 || !(total > 0) {
		return 0
	}

	size := data.Domain().Size()
	var gap, releasedCum, trueCum float64
	for x := 0; x < size; x++ {
		releasedCum += released.At(x)
		trueCum += float64(data.RangeCount(models.Query{Lower: x, Upper: x + 1}))
		gap = math.Max(gap, math.Abs(releasedCum/total-trueCum/n))
	}
	return gap
}
