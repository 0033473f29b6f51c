package mwem

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/inferloop/mwem/internal/privacy"
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/models"
)

// NoisyMaxSelector implements report-noisy-max: every candidate's true score gets
// its own Laplace draw and the largest noisy score wins.
type NoisyMaxSelector struct {
	noise   privacy.NoiseSource
	workers int
}

// NewNoisyMaxSelector creates a selector. workers <= 0 uses runtime.NumCPU().
func NewNoisyMaxSelector(noise privacy.NoiseSource, workers int) *NoisyMaxSelector {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &NoisyMaxSelector{noise: noise, workers: workers}
}

// Select returns the index and value of the selected candidate. Scores are computed
// concurrently, but noise is drawn on the calling goroutine in candidate order so a
// seeded source gives the same selection regardless of scheduling. Ties go to the
// first candidate.
func (s *NoisyMaxSelector) Select(ctx context.Context, candidates []models.Query, oracle Scorer, sensitivity, epsilon float64) (int, models.Query, error) {
	if err := privacy.ValidateLaplace(sensitivity, epsilon); err != nil {
		return -1, models.Query{}, err
	}
	if len(candidates) == 0 {
		return -1, models.Query{}, errors.EmptyWorkload()
	}

	scores, err := s.scoreAll(ctx, candidates, oracle)
	if err != nil {
		return -1, models.Query{}, err
	}

	best := -1
	bestScore := 0.0
	for i, score := range scores {
		noise, err := s.noise.Laplace(sensitivity, epsilon)
		if err != nil {
			return -1, models.Query{}, err
		}
		noisy := score + noise
		if best < 0 || noisy > bestScore {
			best, bestScore = i, noisy
		}
	}

	return best, candidates[best], nil
}

func (s *NoisyMaxSelector) scoreAll(ctx context.Context, candidates []models.Query, oracle Scorer) ([]float64, error) {
	scores := make([]float64, len(candidates))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	chunk := (len(candidates) + s.workers - 1) / s.workers
	for start := 0; start < len(candidates); start += chunk {
		start, end := start, min(start+chunk, len(candidates))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				scores[i] = oracle.Score(candidates[i])
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeGeneration, errors.CodeInternalError, "scoring cancelled")
	}
	return scores, nil
}
