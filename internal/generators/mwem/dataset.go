package mwem

import (
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/models"
)

// Dataset is the private multiset B, held as a per-value histogram over its domain.
// It is read-only after construction.
type Dataset struct {
	domain Domain
	counts []int
	n      int
}

// NewDataset builds a dataset from raw values. Values outside the domain are
// rejected rather than dropped, so the record count n is never silently reduced.
func NewDataset(domain Domain, values []int) (*Dataset, error) {
	if domain.Size() <= 0 {
		return nil, errors.NewValidationError(errors.CodeInvalidDomain, "dataset requires a non-empty domain")
	}

	counts := make([]int, domain.Size())
	for i, v := range values {
		if v < 0 || v >= domain.Size() {
			return nil, errors.QueryOutOfDomain("record %d has value %d outside domain [0,%d)", i, v, domain.Size()).
				WithContext("code", errors.CodeValueOutOfDomain)
		}
		counts[v]++
	}

	return &Dataset{domain: domain, counts: counts, n: len(values)}, nil
}

// Domain returns the dataset's domain.
func (b *Dataset) Domain() Domain {
	return b.domain
}

// Len returns the record count n.
func (b *Dataset) Len() int {
	return b.n
}

// RangeCount returns the number of records in q. Changing one record changes the
// result by at most 1. The query must already be validated against the domain.
func (b *Dataset) RangeCount(q models.Query) int {
	total := 0
	for _, c := range b.counts[q.Lower:q.Upper] {
		total += c
	}
	return total
}
