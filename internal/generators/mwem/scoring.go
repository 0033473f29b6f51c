package mwem

import (
	"math"

	"github.com/inferloop/mwem/pkg/models"
)

// Scorer scores candidate queries. Implementations must change by at most the
// sensitivity passed to the selector when one record of the private data changes.
type Scorer interface {
	Score(q models.Query) float64
}

// ScoringOracle scores queries by their error against a frozen distribution snapshot.
type ScoringOracle struct {
	snapshot Distribution
	data     *Dataset
}

// NewScoringOracle binds an oracle to the snapshot A_i and the private dataset.
func NewScoringOracle(snapshot Distribution, data *Dataset) *ScoringOracle {
	return &ScoringOracle{snapshot: snapshot, data: data}
}

// Score returns |RangeSum(A_i, q) - RangeCount(B, q)|. The snapshot never depends on B,
// so the score has sensitivity 1.
func (o *ScoringOracle) Score(q models.Query) float64 {
	return math.Abs(o.snapshot.RangeSum(q) - float64(o.data.RangeCount(q)))
}

// ScoreFunc adapts a plain function to Scorer.
type ScoreFunc func(q models.Query) float64

// Score implements Scorer.
func (f ScoreFunc) Score(q models.Query) float64 {
	return f(q)
}
