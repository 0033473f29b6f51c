package mwem

import (
	"github.com/inferloop/mwem/internal/privacy"
	"github.com/inferloop/mwem/pkg/models"
)

// Measure releases RangeCount(B, q) under the Laplace mechanism with sensitivity 1.
func Measure(noise privacy.NoiseSource, data *Dataset, q models.Query, epsilon float64) (float64, error) {
	perturbation, err := noise.Laplace(1, epsilon)
	if err != nil {
		return 0, err
	}
	return float64(data.RangeCount(q)) + perturbation, nil
}
