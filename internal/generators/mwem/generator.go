package mwem

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/mwem/internal/privacy"
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/models"
)

// Sensitivity of both the scoring function and the range count.
const Sensitivity = 1.0

// Config contains configuration for MWEM runs
type Config struct {
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"` // Scoring goroutines per iteration, 0 = NumCPU
}

// Result is the output of a completed run.
type Result struct {
	Distribution Distribution
	Trace        []models.IterationRecord
	Budget       models.BudgetLedger
	Duration     time.Duration
}

// Generator drives the MWEM loop.
type Generator struct {
	logger    *logrus.Logger
	config    *Config
	noise     privacy.NoiseSource
	selector  *NoisyMaxSelector
	observers []Observer
}

// NewGenerator creates a generator drawing all noise from noise.
func NewGenerator(config *Config, noise privacy.NoiseSource, logger *logrus.Logger) *Generator {
	if config == nil {
		config = &Config{}
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &Generator{
		logger:   logger,
		config:   config,
		noise:    noise,
		selector: NewNoisyMaxSelector(noise, config.Workers),
	}
}

// AddObserver registers an observer notified after every iteration.
func (g *Generator) AddObserver(o Observer) {
	g.observers = append(g.observers, o)
}

// Run performs exactly iterations rounds of select, measure and update over the
// workload, spending epsilon/(2*iterations) on each private step. Any error aborts
// the run and no partial distribution is returned.
func (g *Generator) Run(ctx context.Context, data *Dataset, workload []models.Query, iterations int, epsilon float64) (*Result, error) {
	if iterations <= 0 {
		return nil, errors.InvalidBudget("iteration count must be positive, got %d", iterations)
	}
	budget, err := privacy.NewBudgetAccountant(epsilon, 2*iterations)
	if err != nil {
		return nil, err
	}
	if data == nil || data.Len() == 0 {
		return nil, errors.WrapError(errors.ErrInvalidInputData, errors.ErrorTypeValidation, errors.CodeInvalidInput, "dataset contains no records")
	}
	domain := data.Domain()
	if err := domain.ValidateWorkload(workload); err != nil {
		return nil, err
	}

	start := time.Now()
	n := float64(data.Len())

	g.logger.WithFields(logrus.Fields{
		"domain_size": domain.Size(),
		"workload":    len(workload),
		"iterations":  iterations,
		"epsilon":     epsilon,
	}).Info("Starting MWEM run")

	current := InitUniform(domain, n)
	trace := make([]models.IterationRecord, 0, iterations)

	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeGeneration, errors.CodeInternalError, "MWEM run cancelled").
				WithContext("iteration", i)
		}

		selectEpsilon, err := budget.Spend("select")
		if err != nil {
			return nil, err
		}
		index, query, err := g.selector.Select(ctx, workload, NewScoringOracle(current, data), Sensitivity, selectEpsilon)
		if err != nil {
			return nil, err
		}

		measureEpsilon, err := budget.Spend("measure")
		if err != nil {
			return nil, err
		}
		measurement, err := Measure(g.noise, data, query, measureEpsilon)
		if err != nil {
			return nil, err
		}

		next, err := Update(current, query, measurement)
		if err != nil {
			return nil, err
		}
		current = next

		record := models.IterationRecord{
			Iteration:    i,
			QueryIndex:   index,
			Query:        query,
			Measurement:  measurement,
			EpsilonSpent: budget.Consumed(),
		}
		trace = append(trace, record)

		g.logger.WithFields(logrus.Fields{
			"iteration":     i,
			"query_index":   index,
			"query":         query.String(),
			"measurement":   measurement,
			"epsilon_spent": record.EpsilonSpent,
		}).Debug("MWEM iteration complete")

		g.notify(ctx, IterationState{
			Iteration:     i,
			Record:        record,
			Distribution:  current,
			EpsilonSpent:  record.EpsilonSpent,
			EpsilonBudget: epsilon,
		})
	}

	result := &Result{
		Distribution: current,
		Trace:        trace,
		Budget:       budget.Ledger(),
		Duration:     time.Since(start),
	}

	g.logger.WithFields(logrus.Fields{
		"iterations":       iterations,
		"epsilon_consumed": result.Budget.ConsumedEpsilon,
		"duration":         result.Duration,
	}).Info("Completed MWEM run")

	return result, nil
}

func (g *Generator) notify(ctx context.Context, state IterationState) {
	for _, o := range g.observers {
		if err := o.OnIteration(ctx, state); err != nil {
			g.logger.WithError(err).WithField("iteration", state.Iteration).Warn("Iteration observer failed")
		}
	}
}
