package verify

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerSpendAndRefund(t *testing.T) {
	l := NewLedger(3)
	require.Equal(t, 3, l.Remaining())

	assert.True(t, l.TrySpend())
	assert.True(t, l.TrySpend())
	assert.Equal(t, 2, l.Consumed())

	l.Refund()
	assert.Equal(t, 1, l.Consumed())

	assert.True(t, l.TrySpend())
	assert.True(t, l.TrySpend())
	assert.False(t, l.TrySpend(), "empty ledger must refuse")
	assert.Equal(t, 0, l.Remaining())
	assert.Equal(t, 3, l.Consumed())
}

func TestLedgerRefundNeverExceedsTotal(t *testing.T) {
	l := NewLedger(2)
	l.Refund()
	l.Refund()
	assert.Equal(t, 2, l.Remaining())
	assert.Equal(t, 0, l.Consumed())
}

func TestLedgerZeroAndNegativeBudget(t *testing.T) {
	assert.False(t, NewLedger(0).TrySpend())
	assert.False(t, NewLedger(-5).TrySpend())
}

// The decrement must be a single decrement-if-positive; a check followed by a
// separate decrement overspends under concurrency.
func TestLedgerConcurrentSpendNeverOverdraws(t *testing.T) {
	const budget = 50
	const goroutines = 20
	const attemptsEach = 100

	l := NewLedger(budget)

	var wg sync.WaitGroup
	successes := make([]int, goroutines)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < attemptsEach; i++ {
				if l.TrySpend() {
					successes[g]++
				}
			}
		}(g)
	}
	wg.Wait()

	total := 0
	for _, n := range successes {
		total += n
	}
	assert.Equal(t, budget, total, "exactly the budget must be spendable")
	assert.Equal(t, budget, l.Consumed())
	assert.Equal(t, 0, l.Remaining())
}
