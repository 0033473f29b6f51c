package mwem

import (
	"context"

	"github.com/inferloop/mwem/pkg/models"
)

// IterationState is what an observer sees after iteration Iteration completes.
// It carries only private outputs: the selected query, its noisy measurement and
// the resulting distribution.
type IterationState struct {
	Iteration     int
	Record        models.IterationRecord
	Distribution  Distribution
	EpsilonSpent  float64
	EpsilonBudget float64
}

// Observer receives iteration states. Errors are logged by the generator and never
// abort a run.
type Observer interface {
	OnIteration(ctx context.Context, state IterationState) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, state IterationState) error

// OnIteration implements Observer.
func (f ObserverFunc) OnIteration(ctx context.Context, state IterationState) error {
	return f(ctx, state)
}

// HistoryObserver retains every intermediate distribution, e.g. for plotting.
// It is not safe for concurrent runs.
type HistoryObserver struct {
	History []Distribution
}

// OnIteration implements Observer.
func (h *HistoryObserver) OnIteration(_ context.Context, state IterationState) error {
	h.History = append(h.History, state.Distribution)
	return nil
}
