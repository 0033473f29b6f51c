package models

import (
	"time"
)

// Release is the published output of one MWEM run. Every field is either a public
// parameter or a differentially private output, so a Release may be stored and
// served without further accounting.
type Release struct {
	ID          string            `json:"id"`
	Name        string            `json:"name,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	DomainSize  int               `json:"domain_size"`
	RecordCount int               `json:"record_count"`
	Epsilon     float64           `json:"epsilon"`
	Iterations  int               `json:"iterations"`
	Workload    []Query           `json:"workload"`
	Trace       []IterationRecord `json:"trace"`
	Budget      BudgetLedger      `json:"budget"`
	Weights     []float64         `json:"weights"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// IterationRecord holds the private outputs of a single iteration.
type IterationRecord struct {
	Iteration    int     `json:"iteration"`
	QueryIndex   int     `json:"query_index"`
	Query        Query   `json:"query"`
	Measurement  float64 `json:"measurement"`
	EpsilonSpent float64 `json:"epsilon_spent"`
}

// BudgetLedger summarises privacy budget consumption.
type BudgetLedger struct {
	TotalEpsilon    float64 `json:"total_epsilon"`
	ConsumedEpsilon float64 `json:"consumed_epsilon"`
	ShareEpsilon    float64 `json:"share_epsilon"`
	Shares          int     `json:"shares"`
	SharesSpent     int     `json:"shares_spent"`
	Composition     string  `json:"composition"`
}

// ReleaseSummary is the listing view of a Release without its weights.
type ReleaseSummary struct {
	ID          string            `json:"id"`
	Name        string            `json:"name,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	DomainSize  int               `json:"domain_size"`
	RecordCount int               `json:"record_count"`
	Epsilon     float64           `json:"epsilon"`
	Iterations  int               `json:"iterations"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// Summary returns the listing view of r.
func (r *Release) Summary() ReleaseSummary {
	return ReleaseSummary{
		ID:          r.ID,
		Name:        r.Name,
		CreatedAt:   r.CreatedAt,
		DomainSize:  r.DomainSize,
		RecordCount: r.RecordCount,
		Epsilon:     r.Epsilon,
		Iterations:  r.Iterations,
		Labels:      r.Labels,
	}
}
