package privacy

import (
	"fmt"
	"sync"
	"time"

	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/models"
)

// CompositionBasic names sequential composition: epsilons add up.
const CompositionBasic = "basic"

// BudgetAccountant splits a total epsilon into equal shares and tracks how many have
// been spent. Consumption is kept as an integer share count, so after every share is
// spent Consumed reports exactly the total epsilon.
type BudgetAccountant struct {
	mu           sync.Mutex
	epsilon      float64
	shares       int
	spent        int
	transactions []BudgetTransaction
}

// BudgetTransaction records one budget expenditure.
type BudgetTransaction struct {
	Sequence    int       `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
	EpsilonUsed float64   `json:"epsilon_used"`
	Purpose     string    `json:"purpose"`
}

// NewBudgetAccountant creates an accountant that splits epsilon into shares parts.
func NewBudgetAccountant(epsilon float64, shares int) (*BudgetAccountant, error) {
	if err := ValidateLaplace(1, epsilon); err != nil {
		return nil, err
	}
	if shares <= 0 {
		return nil, errors.InvalidBudget("number of budget shares must be positive, got %d", shares)
	}

	return &BudgetAccountant{
		epsilon:      epsilon,
		shares:       shares,
		transactions: make([]BudgetTransaction, 0, shares),
	}, nil
}

// ShareEpsilon returns the epsilon of a single share.
func (b *BudgetAccountant) ShareEpsilon() float64 {
	return b.epsilon / float64(b.shares)
}

// Spend consumes one share for purpose and returns its epsilon.
func (b *BudgetAccountant) Spend(purpose string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.spent >= b.shares {
		return 0, errors.BudgetExceeded("all %d shares of epsilon=%v already spent, cannot spend on %q", b.shares, b.epsilon, purpose)
	}

	b.spent++
	share := b.epsilon / float64(b.shares)
	b.transactions = append(b.transactions, BudgetTransaction{
		Sequence:    b.spent,
		Timestamp:   time.Now(),
		EpsilonUsed: share,
		Purpose:     purpose,
	})

	return share, nil
}

// Consumed returns the epsilon spent so far under basic composition.
func (b *BudgetAccountant) Consumed() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consumedLocked()
}

// Remaining returns the epsilon that can still be spent.
func (b *BudgetAccountant) Remaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.epsilon * float64(b.shares-b.spent) / float64(b.shares)
}

// Exhausted reports whether every share has been spent.
func (b *BudgetAccountant) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent == b.shares
}

// Transactions returns a copy of the expenditure log.
func (b *BudgetAccountant) Transactions() []BudgetTransaction {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]BudgetTransaction, len(b.transactions))
	copy(out, b.transactions)
	return out
}

// Ledger returns the accountant's state as a models.BudgetLedger.
func (b *BudgetAccountant) Ledger() models.BudgetLedger {
	b.mu.Lock()
	defer b.mu.Unlock()

	return models.BudgetLedger{
		TotalEpsilon:    b.epsilon,
		ConsumedEpsilon: b.consumedLocked(),
		ShareEpsilon:    b.epsilon / float64(b.shares),
		Shares:          b.shares,
		SharesSpent:     b.spent,
		Composition:     CompositionBasic,
	}
}

func (b *BudgetAccountant) String() string {
	return fmt.Sprintf("budget(epsilon=%v, spent=%d/%d)", b.epsilon, b.spent, b.shares)
}

// spent/shares is exactly 1.0 once every share is used, so the product is exactly epsilon.
func (b *BudgetAccountant) consumedLocked() float64 {
	return b.epsilon * (float64(b.spent) / float64(b.shares))
}
