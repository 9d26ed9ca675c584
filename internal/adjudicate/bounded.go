package adjudicate

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Bounded wraps an Adjudicator with an in-flight cap. Adjudication runs at a
// higher concurrency bound than verification (cheaper, faster resource) but
// stays independently bounded.
type Bounded struct {
	inner Adjudicator
	sem   *semaphore.Weighted
}

// NewBounded caps concurrent adjudication calls at n.
func NewBounded(inner Adjudicator, n int) *Bounded {
	if n <= 0 {
		n = 8
	}
	return &Bounded{
		inner: inner,
		sem:   semaphore.NewWeighted(int64(n)),
	}
}

func (b *Bounded) Adjudicate(ctx context.Context, req Request) (Decision, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return Decision{}, err
	}
	defer b.sem.Release(1)
	return b.inner.Adjudicate(ctx, req)
}
