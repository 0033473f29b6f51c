package mwem

import (
	"context"
	stderrors "errors"
	"io"
	"math/rand/v2"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/inferloop/mwem/internal/privacy"
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func exampleDataset(t *testing.T) *Dataset {
	t.Helper()
	domain, err := NewDomain(40)
	require.NoError(t, err)
	data, err := NewDataset(domain, []int{10, 20, 20, 30})
	require.NoError(t, err)
	return data
}

func exampleWorkload() []models.Query {
	return []models.Query{{Lower: 0, Upper: 15}, {Lower: 15, Upper: 25}, {Lower: 25, Upper: 35}}
}

func TestRunEndToEndWithZeroNoise(t *testing.T) {
	data := exampleDataset(t)
	a0 := InitUniform(data.Domain(), 4)

	history := &HistoryObserver{}
	gen := NewGenerator(nil, privacy.ZeroNoise{}, quietLogger())
	gen.AddObserver(history)

	result, err := gen.Run(context.Background(), data, exampleWorkload(), 1, 1.0)
	require.NoError(t, err)

	require.Len(t, result.Trace, 1)
	assert.Equal(t, 1, result.Trace[0].QueryIndex)
	assert.Equal(t, models.Query{Lower: 15, Upper: 25}, result.Trace[0].Query)
	assert.Equal(t, 2.0, result.Trace[0].Measurement)

	a1 := result.Distribution
	assert.InDelta(t, 4.0, a1.Total(), 1e-12)
	for x := 0; x < 40; x++ {
		if x >= 15 && x < 25 {
			assert.Greater(t, a1.At(x), a0.At(x), "x=%d", x)
		} else {
			assert.Less(t, a1.At(x), a0.At(x), "x=%d", x)
		}
	}

	require.Len(t, history.History, 1)
	assert.Equal(t, a1.Weights(), history.History[0].Weights())
}

func TestRunPreservesMassAndNonNegativity(t *testing.T) {
	domain, err := NewDomain(64)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(7, 7))
	values := make([]int, 500)
	for i := range values {
		values[i] = int(rng.NormFloat64()*8 + 32)
		values[i] = max(0, min(63, values[i]))
	}
	data, err := NewDataset(domain, values)
	require.NoError(t, err)

	workload := make([]models.Query, 0, 64)
	for lower := 0; lower < 64; lower += 4 {
		workload = append(workload, models.Query{Lower: lower, Upper: min(64, lower+9)})
	}

	history := &HistoryObserver{}
	gen := NewGenerator(&Config{Workers: 4}, privacy.NewSeededNoise(11), quietLogger())
	gen.AddObserver(history)

	result, err := gen.Run(context.Background(), data, workload, 25, 0.5)
	require.NoError(t, err)
	require.Len(t, history.History, 25)

	n := float64(len(values))
	for i, a := range history.History {
		assert.True(t, scalar.EqualWithinRel(a.Total(), n, 1e-6), "iteration %d: mass %v", i, a.Total())
		full, err := a.Answer(domain.Full())
		require.NoError(t, err)
		assert.True(t, scalar.EqualWithinRel(full, n, 1e-6), "iteration %d: full-domain answer %v", i, full)
		for x := 0; x < domain.Size(); x++ {
			assert.GreaterOrEqual(t, a.At(x), 0.0)
		}
	}

	assert.Equal(t, 0.5, result.Budget.ConsumedEpsilon)
	assert.Equal(t, 50, result.Budget.SharesSpent)
	assert.Equal(t, 0.5, result.Trace[len(result.Trace)-1].EpsilonSpent)
}

func TestRunIsReproducibleUnderFixedSeed(t *testing.T) {
	data := exampleDataset(t)
	workload := append(exampleWorkload(), models.Query{Lower: 5, Upper: 35}, models.Query{Lower: 18, Upper: 22})

	run := func(workers int) *Result {
		gen := NewGenerator(&Config{Workers: workers}, privacy.NewSeededNoise(2024), quietLogger())
		result, err := gen.Run(context.Background(), data, workload, 10, 1.0)
		require.NoError(t, err)
		return result
	}

	first, second := run(1), run(8)
	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.Distribution.Weights(), second.Distribution.Weights())
}

func TestRunSizeOneDomainIsFixpoint(t *testing.T) {
	domain, err := NewDomain(1)
	require.NoError(t, err)
	data, err := NewDataset(domain, []int{0, 0, 0})
	require.NoError(t, err)

	history := &HistoryObserver{}
	gen := NewGenerator(nil, privacy.NewSeededNoise(3), quietLogger())
	gen.AddObserver(history)

	_, err = gen.Run(context.Background(), data, []models.Query{{Lower: 0, Upper: 1}, {Lower: 0, Upper: 0}}, 12, 0.2)
	require.NoError(t, err)

	a0 := InitUniform(domain, 3)
	for _, a := range history.History {
		assert.Equal(t, a0.Weights(), a.Weights())
	}
}

func TestRunRejectsInvalidInput(t *testing.T) {
	data := exampleDataset(t)
	gen := NewGenerator(nil, privacy.ZeroNoise{}, quietLogger())
	ctx := context.Background()

	for _, tc := range []struct {
		name       string
		workload   []models.Query
		iterations int
		epsilon    float64
		want       error
	}{
		{"zero iterations", exampleWorkload(), 0, 1, errors.ErrInvalidBudget},
		{"negative iterations", exampleWorkload(), -3, 1, errors.ErrInvalidBudget},
		{"zero epsilon", exampleWorkload(), 5, 0, errors.ErrInvalidBudget},
		{"negative epsilon", exampleWorkload(), 5, -1, errors.ErrInvalidBudget},
		{"empty workload", nil, 5, 1, errors.ErrEmptyWorkload},
		{"query past domain", []models.Query{{Lower: 30, Upper: 41}}, 5, 1, errors.ErrQueryOutOfDomain},
		{"negative lower", []models.Query{{Lower: -1, Upper: 4}}, 5, 1, errors.ErrQueryOutOfDomain},
		{"inverted query", []models.Query{{Lower: 9, Upper: 3}}, 5, 1, errors.ErrQueryOutOfDomain},
	} {
		t.Run(tc.name, func(t *testing.T) {
			result, err := gen.Run(ctx, data, tc.workload, tc.iterations, tc.epsilon)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, stderrors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestRunRejectsEmptyDataset(t *testing.T) {
	domain, err := NewDomain(10)
	require.NoError(t, err)
	data, err := NewDataset(domain, nil)
	require.NoError(t, err)

	_, err = NewGenerator(nil, privacy.ZeroNoise{}, quietLogger()).
		Run(context.Background(), data, []models.Query{{Lower: 0, Upper: 5}}, 1, 1)
	assert.True(t, stderrors.Is(err, errors.ErrInvalidInputData))
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewGenerator(nil, privacy.ZeroNoise{}, quietLogger()).
		Run(ctx, exampleDataset(t), exampleWorkload(), 3, 1)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, stderrors.Is(err, context.Canceled))
}

func TestObserverErrorsDoNotAbortRun(t *testing.T) {
	gen := NewGenerator(nil, privacy.ZeroNoise{}, quietLogger())
	calls := 0
	gen.AddObserver(ObserverFunc(func(context.Context, IterationState) error {
		calls++
		return stderrors.New("sink unavailable")
	}))

	_, err := gen.Run(context.Background(), exampleDataset(t), exampleWorkload(), 4, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
}
