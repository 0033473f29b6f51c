// Package workload builds and decodes range-query workloads.
package workload

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/spf13/afero"

	"github.com/inferloop/mwem/pkg/constants"
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/models"
)

// RandomIntervals draws count non-empty intervals over [0, domainSize). Each query
// picks its lower bound uniformly and then an upper bound uniformly above it.
func RandomIntervals(domainSize, count int, src rand.Source) ([]models.Query, error) {
	if err := validateSize(domainSize); err != nil {
		return nil, err
	}
	if count <= 0 || count > constants.MaxWorkloadSize {
		return nil, errors.NewValidationError(errors.CodeOutOfRange,
			fmt.Sprintf("workload size must be in [1, %d], got %d", constants.MaxWorkloadSize, count))
	}
	if src == nil {
		return nil, errors.NewValidationError(errors.CodeMissingField, "random source is required")
	}

	rng := rand.New(src)
	queries := make([]models.Query, count)
	for i := range queries {
		lower := rng.IntN(domainSize)
		upper := lower + 1 + rng.IntN(domainSize-lower)
		queries[i] = models.Query{Lower: lower, Upper: upper}
	}
	return queries, nil
}

// AllPrefixes returns the prefix queries [0,1), [0,2), ... [0,domainSize).
func AllPrefixes(domainSize int) ([]models.Query, error) {
	if err := validateSize(domainSize); err != nil {
		return nil, err
	}
	if domainSize > constants.MaxWorkloadSize {
		return nil, errors.NewValidationError(errors.CodeOutOfRange,
			fmt.Sprintf("domain of size %d has more prefixes than the workload limit %d", domainSize, constants.MaxWorkloadSize))
	}

	queries := make([]models.Query, domainSize)
	for k := range queries {
		queries[k] = models.Query{Lower: 0, Upper: k + 1}
	}
	return queries, nil
}

// Decode reads a JSON workload. Queries may be written as [lower, upper] pairs or
// as {"lower": a, "upper": b} objects.
func Decode(r io.Reader) ([]models.Query, error) {
	var queries []models.Query
	if err := json.NewDecoder(r).Decode(&queries); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidFormat, "Failed to decode workload")
	}
	if len(queries) == 0 {
		return nil, errors.EmptyWorkload()
	}
	if len(queries) > constants.MaxWorkloadSize {
		return nil, errors.NewValidationError(errors.CodeOutOfRange,
			fmt.Sprintf("workload has %d queries, limit is %d", len(queries), constants.MaxWorkloadSize))
	}
	return queries, nil
}

// Encode writes queries in the compact [[lower, upper], ...] form.
func Encode(w io.Writer, queries []models.Query) error {
	pairs := make([][2]int, len(queries))
	for i, q := range queries {
		pairs[i] = [2]int{q.Lower, q.Upper}
	}
	if err := json.NewEncoder(w).Encode(pairs); err != nil {
		return errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeSerialization, "Failed to encode workload")
	}
	return nil
}

// LoadFile decodes the workload stored at path.
func LoadFile(fs afero.Fs, path string) ([]models.Query, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput, "Failed to open workload file").
			WithContext("path", path)
	}
	defer f.Close()

	return Decode(f)
}

func validateSize(domainSize int) error {
	if domainSize <= 0 || domainSize > constants.MaxDomainSize {
		return errors.NewValidationError(errors.CodeInvalidDomain,
			fmt.Sprintf("domain size must be in [1, %d], got %d", constants.MaxDomainSize, domainSize))
	}
	return nil
}
