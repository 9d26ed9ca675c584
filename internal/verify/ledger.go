package verify

import "sync/atomic"

// Ledger tracks the fixed, non-renewable budget of paid verification credits.
//
// A single Ledger is shared by every worker in a run; it is passed by reference,
// never held as package state. TrySpend is the only way to consume a credit and
// is a single decrement-if-positive, so the budget cannot be overspent by
// concurrent callers racing a separate check against a separate decrement.
type Ledger struct {
	total     int64
	remaining atomic.Int64
}

// NewLedger returns a ledger holding total credits. A negative total is
// treated as zero.
func NewLedger(total int) *Ledger {
	if total < 0 {
		total = 0
	}
	l := &Ledger{total: int64(total)}
	l.remaining.Store(int64(total))
	return l
}

// TrySpend atomically consumes one credit. It returns false, without mutating
// anything, when no credits remain.
func (l *Ledger) TrySpend() bool {
	for {
		v := l.remaining.Load()
		if v <= 0 {
			return false
		}
		if l.remaining.CompareAndSwap(v, v-1) {
			return true
		}
	}
}

// Refund returns one credit to the ledger. Results the provider does not bill
// for (status "unknown") are refunded after the fact. The balance never rises
// above the original total.
func (l *Ledger) Refund() {
	for {
		v := l.remaining.Load()
		if v >= l.total {
			return
		}
		if l.remaining.CompareAndSwap(v, v+1) {
			return
		}
	}
}

// Remaining reports credits still available.
func (l *Ledger) Remaining() int {
	return int(l.remaining.Load())
}

// Consumed reports credits spent so far.
func (l *Ledger) Consumed() int {
	return int(l.total - l.remaining.Load())
}

// Total reports the original budget.
func (l *Ledger) Total() int {
	return int(l.total)
}
