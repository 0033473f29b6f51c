package mwem

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/models"
)

// Update applies one multiplicative-weights step and returns a new distribution:
//
//	A'[x]  = A[x] * exp(1{x in q} * (m - RangeSum(A, q)) / (2n))
//	Anew[x] = n * A'[x] / sum(A')
//
// Weights are multiplied in log space and shifted by the largest log weight before
// exponentiating, so a large exponent moves mass instead of overflowing. A zero or
// non-finite normaliser is reported as NumericalDegeneracy and never repaired.
func Update(last Distribution, q models.Query, measurement float64) (Distribution, error) {
	n := last.N()
	if !(n > 0) || math.IsInf(n, 0) {
		return Distribution{}, errors.NumericalDegeneracy("record count must be positive and finite, got %v", n)
	}
	if math.IsNaN(measurement) || math.IsInf(measurement, 0) {
		return Distribution{}, errors.NumericalDegeneracy("measurement is not finite: %v", measurement)
	}

	step := (measurement - last.RangeSum(q)) / (2 * n)

	logs := make([]float64, len(last.weights))
	for x, w := range last.weights {
		logs[x] = math.Log(w)
		if q.Contains(x) {
			logs[x] += step
		}
	}

	shift := floats.Max(logs)
	if math.IsNaN(shift) || math.IsInf(shift, 0) {
		return Distribution{}, errors.NumericalDegeneracy("largest log weight is %v", shift).
			WithContext("query", q.String())
	}

	weights := make([]float64, len(logs))
	for x, l := range logs {
		weights[x] = math.Exp(l - shift)
	}

	total := floats.Sum(weights)
	if !(total > 0) || math.IsInf(total, 0) {
		return Distribution{}, errors.NumericalDegeneracy("normalisation total is %v", total).
			WithContext("query", q.String())
	}
	floats.Scale(n/total, weights)

	return Distribution{domain: last.domain, weights: weights, n: n}, nil
}
