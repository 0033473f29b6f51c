package validation

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/mwem/internal/generators/mwem"
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/models"
)

func exampleData(t *testing.T) *mwem.Dataset {
	t.Helper()
	domain, err := mwem.NewDomain(4)
	require.NoError(t, err)
	data, err := mwem.NewDataset(domain, []int{0, 1, 1, 3})
	require.NoError(t, err)
	return data
}

func TestExactReleaseHasNoError(t *testing.T) {
	data := exampleData(t)
	exact, err := mwem.NewDistribution(data.Domain(), []float64{1, 2, 0, 1}, 4)
	require.NoError(t, err)

	report, err := NewAccuracyValidator(&AccuracyValidatorConfig{MaxErrorFraction: 0.01}, nil).
		Validate(context.Background(), exact, data, []models.Query{{Lower: 0, Upper: 2}, {Lower: 1, Upper: 4}})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Queries)
	assert.Equal(t, 4, report.RecordCount)
	assert.Equal(t, 0.0, report.MaxAbsError)
	assert.Equal(t, 0.0, report.RMSE)
	assert.InDelta(t, 0.0, report.KSDistance, 1e-12)
	assert.True(t, report.Passed)
	assert.Nil(t, report.PerQuery)
}

func TestUniformReleaseErrors(t *testing.T) {
	data := exampleData(t)
	uniform := mwem.InitUniform(data.Domain(), 4)
	workload := []models.Query{{Lower: 0, Upper: 1}, {Lower: 1, Upper: 2}, {Lower: 2, Upper: 3}}

	report, err := NewAccuracyValidator(&AccuracyValidatorConfig{MaxErrorFraction: 0.1, IncludeQueries: true}, nil).
		Validate(context.Background(), uniform, data, workload)
	require.NoError(t, err)

	// true counts 1, 2, 0 against 1, 1, 1
	assert.Equal(t, 1.0, report.MaxAbsError)
	assert.InDelta(t, 2.0/3.0, report.MeanAbsError, 1e-12)
	assert.InDelta(t, 0.816496580927726, report.RMSE, 1e-12)
	assert.InDelta(t, 0.25, report.KSDistance, 1e-12)
	assert.False(t, report.Passed)

	require.Len(t, report.PerQuery, 3)
	assert.Equal(t, QueryError{Query: workload[1], True: 2, Released: 1, AbsError: 1}, report.PerQuery[1])
}

func TestValidateRejectsBadInput(t *testing.T) {
	data := exampleData(t)
	uniform := mwem.InitUniform(data.Domain(), 4)
	validator := NewAccuracyValidator(nil, nil)
	ctx := context.Background()

	_, err := validator.Validate(ctx, uniform, nil, []models.Query{{Lower: 0, Upper: 1}})
	assert.Error(t, err)

	_, err = validator.Validate(ctx, uniform, data, nil)
	assert.True(t, stderrors.Is(err, errors.ErrEmptyWorkload))

	_, err = validator.Validate(ctx, uniform, data, []models.Query{{Lower: 0, Upper: 9}})
	assert.True(t, stderrors.Is(err, errors.ErrQueryOutOfDomain))

	other, _ := mwem.NewDomain(8)
	_, err = validator.Validate(ctx, mwem.InitUniform(other, 4), data, []models.Query{{Lower: 0, Upper: 1}})
	assert.Equal(t, errors.CodeInvalidDomain, errors.Code(err))
}
