package task

import (
	"context"
	"fmt"
	"sync"
)

// DefaultBatchConcurrency caps per-item operations in flight for one batch,
// sized to respect external LLM rate limits.
const DefaultBatchConcurrency = 3

// RunBounded executes fn for every index in [0, n) with at most limit
// invocations concurrently in flight, and returns only once all items have
// settled. Completion order is unspecified; every item is attempted exactly
// once. A single item's failure (or panic) never cancels or blocks the
// remaining items: it is captured at the item boundary and reported in the
// returned slice, where errs[i] is the error for item i or nil.
func RunBounded(ctx context.Context, n, limit int, fn func(ctx context.Context, i int) error) []error {
	if limit <= 0 {
		limit = DefaultBatchConcurrency
	}

	errs := make([]error, n)
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}

		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			errs[i] = runItem(ctx, i, fn)
		}(i)
	}

	wg.Wait()
	return errs
}

// runItem invokes fn for one item, converting a panic into an error so a
// misbehaving item cannot take down the batch.
func runItem(ctx context.Context, i int, fn func(ctx context.Context, i int) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("item %d panicked: %v", i, r)
		}
	}()
	return fn(ctx, i)
}
