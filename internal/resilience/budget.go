package resilience

import (
	"sync"

	"github.com/rotisserie/eris"
)

// ErrBudgetExceeded is returned once a run tries to spend more outbound calls
// than its budget allows. It is fatal for the run and never retried.
var ErrBudgetExceeded = eris.New("request budget exceeded")

// Budget counts outbound provider calls for one run against a hard ceiling.
type Budget struct {
	mu   sync.Mutex
	max  int
	used int
}

// NewBudget creates a budget that allows max calls.
func NewBudget(max int) *Budget {
	return &Budget{max: max}
}

// Consume spends one unit. The call that would exceed the ceiling fails with
// ErrBudgetExceeded and spends nothing.
func (b *Budget) Consume() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used >= b.max {
		return ErrBudgetExceeded
	}
	b.used++
	return nil
}

// Used returns the number of units spent.
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Remaining returns the number of units left.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.max - b.used
}

// Max returns the ceiling.
func (b *Budget) Max() int {
	return b.max
}
