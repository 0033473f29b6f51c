package mwem

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/models"
)

// Distribution is an immutable scaled PMF over a domain: one non-negative weight per
// domain value, summing to the record count n. Every MWEM iteration produces a new
// Distribution; none is ever modified after construction.
type Distribution struct {
	domain  Domain
	weights []float64
	n       float64
}

// InitUniform returns A0 with A0[x] = n/|D| for every x.
func InitUniform(domain Domain, n float64) Distribution {
	weights := make([]float64, domain.Size())
	w := n / float64(domain.Size())
	for i := range weights {
		weights[i] = w
	}
	return Distribution{domain: domain, weights: weights, n: n}
}

// NewDistribution builds a distribution from stored weights, e.g. a loaded release.
func NewDistribution(domain Domain, weights []float64, n float64) (Distribution, error) {
	if len(weights) != domain.Size() {
		return Distribution{}, errors.NewValidationError(errors.CodeInvalidDomain, "weights do not match domain size").
			WithContext("weights", len(weights)).
			WithContext("domain_size", domain.Size())
	}
	for x, w := range weights {
		if w < 0 || w != w {
			return Distribution{}, errors.NewValidationError(errors.CodeOutOfRange, "weights must be non-negative").
				WithContext("value", x)
		}
	}
	return Distribution{domain: domain, weights: append([]float64(nil), weights...), n: n}, nil
}

// Domain returns the distribution's domain.
func (a Distribution) Domain() Domain {
	return a.domain
}

// N returns the scale n the weights sum to.
func (a Distribution) N() float64 {
	return a.n
}

// At returns A[x].
func (a Distribution) At(x int) float64 {
	return a.weights[x]
}

// Weights returns a copy of the weights.
func (a Distribution) Weights() []float64 {
	return append([]float64(nil), a.weights...)
}

// Total returns sum_x A[x].
func (a Distribution) Total() float64 {
	return floats.Sum(a.weights)
}

// RangeSum returns the mass in q. The query must already be validated.
func (a Distribution) RangeSum(q models.Query) float64 {
	return floats.Sum(a.weights[q.Lower:q.Upper])
}

// Answer validates q and returns its estimated count.
func (a Distribution) Answer(q models.Query) (float64, error) {
	if err := a.domain.ValidateQuery(q); err != nil {
		return 0, err
	}
	return a.RangeSum(q), nil
}

// Probability returns A[x]/n.
func (a Distribution) Probability(x int) float64 {
	return a.weights[x] / a.n
}

// Sample draws count synthetic records treating A[x]/n as a PMF.
func (a Distribution) Sample(count int, src rand.Source) ([]int, error) {
	if count < 0 {
		return nil, errors.NewValidationError(errors.CodeOutOfRange, "sample count must be non-negative")
	}
	if !(a.Total() > 0) {
		return nil, errors.NumericalDegeneracy("cannot sample from a distribution with no mass")
	}

	categorical := distuv.NewCategorical(a.weights, src)
	records := make([]int, count)
	for i := range records {
		records[i] = int(categorical.Rand())
	}
	return records, nil
}
