// Package mwem implements the Multiplicative-Weights-Exponential-Mechanism over a
// bounded discrete ordered domain [0, size).
package mwem

import (
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/models"
)

// Domain is the finite ordered universe [0, Size).
type Domain struct {
	size int
}

// NewDomain creates a domain of the given size.
func NewDomain(size int) (Domain, error) {
	if size <= 0 {
		return Domain{}, errors.NewValidationError(errors.CodeInvalidDomain, "domain size must be positive").
			WithContext("size", size)
	}
	return Domain{size: size}, nil
}

// Size returns |D|.
func (d Domain) Size() int {
	return d.size
}

// Full returns the query covering the whole domain.
func (d Domain) Full() models.Query {
	return models.Query{Lower: 0, Upper: d.size}
}

// ValidateQuery enforces the reject policy: bounds must satisfy
// 0 <= Lower <= Upper <= Size. Lower == Upper is an empty interval.
func (d Domain) ValidateQuery(q models.Query) error {
	if q.Lower > q.Upper {
		return errors.QueryOutOfDomain("query %s is inverted", q)
	}
	if q.Lower < 0 || q.Upper > d.size {
		return errors.QueryOutOfDomain("query %s is outside domain [0,%d)", q, d.size)
	}
	return nil
}

// ValidateWorkload validates every query of a workload and rejects an empty one.
func (d Domain) ValidateWorkload(workload []models.Query) error {
	if len(workload) == 0 {
		return errors.EmptyWorkload()
	}
	for i, q := range workload {
		if err := d.ValidateQuery(q); err != nil {
			return errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeQueryOutOfDomain, "invalid workload").
				WithContext("index", i)
		}
	}
	return nil
}
