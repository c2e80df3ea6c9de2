// Package batch provides a generic bounded-concurrency map over a slice
// of work items with throttled progress reporting. Every parallel stage
// of the scan pipeline runs through it.
package batch

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ProgressFunc receives the number of items finished so far and the
// total item count. It is called from worker goroutines but never
// concurrently with itself.
type ProgressFunc func(done, total int)

// Map runs fn over every item with at most workers goroutines and
// returns the results in completion order. Item failures do not abort
// the batch: fn returning (zero, false) drops the item. The progress
// callback fires at roughly every 5% of items and always at completion.
func Map[T, R any](ctx context.Context, items []T, workers int, fn func(context.Context, T) (R, bool), progress ProgressFunc) []R {
	total := len(items)
	if total == 0 {
		if progress != nil {
			progress(0, 0)
		}
		return nil
	}
	if workers <= 0 {
		workers = 1
	}

	var mu sync.Mutex
	results := make([]R, 0, total)
	done := 0
	lastReported := 0
	step := total / 20
	if step < 1 {
		step = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, item := range items {
		item := item
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			r, ok := fn(gctx, item)

			mu.Lock()
			defer mu.Unlock()
			if ok {
				results = append(results, r)
			}
			done++
			if progress != nil && (done == total || done-lastReported >= step) {
				lastReported = done
				progress(done, total)
			}
			return nil
		})
	}

	// Worker funcs only return context errors; the partial result set is
	// still the right answer on cancellation.
	_ = g.Wait()

	return results
}
