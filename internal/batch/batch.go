// Package batch runs independent work over a fixed-size goroutine pool and
// reassembles results in submission order.
package batch

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Executor partitions work into Batches contiguous pieces and runs at most
// Workers of them at a time. Workers share no mutable state; the first
// failure cancels the rest and is returned alone.
//
// MinBatch, when positive, caps the batch count so that no batch holds
// fewer than MinBatch items unless the whole input is smaller than that.
type Executor struct {
	Batches  int
	Workers  int
	MinBatch int
}

// Range is a half-open index interval [Start, End).
type Range struct {
	Start int
	End   int
}

// Len returns the number of indices in the range.
func (r Range) Len() int { return r.End - r.Start }

// Split divides n items into k contiguous ranges whose sizes differ by at
// most one, larger ranges first. Empty ranges are omitted, so fewer than k
// ranges come back when n < k.
func Split(n, k int) []Range {
	if n <= 0 {
		return nil
	}
	if k <= 0 {
		k = 1
	}
	if k > n {
		k = n
	}
	base, extra := n/k, n%k
	out := make([]Range, k)
	start := 0
	for i := range out {
		size := base
		if i < extra {
			size++
		}
		out[i] = Range{Start: start, End: start + size}
		start += size
	}
	return out
}

func (e Executor) workers() int {
	if e.Workers > 0 {
		return e.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// batches returns how many pieces n items are split into.
func (e Executor) batches(n int) int {
	k := e.Batches
	if k <= 0 {
		k = e.workers()
	}
	if e.MinBatch > 0 {
		k = min(k, max(1, n/e.MinBatch))
	}
	return k
}

// Map applies fn to contiguous batches of items in parallel and
// concatenates the outputs in batch order. fn must return exactly one
// result per input item.
func Map[T, R any](ctx context.Context, e Executor, items []T, fn func(context.Context, []T) ([]R, error)) ([]R, error) {
	ranges := Split(len(items), e.batches(len(items)))
	parts := make([][]R, len(ranges))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for i, r := range ranges {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := fn(gctx, items[r.Start:r.End])
			if err != nil {
				return fmt.Errorf("batch %d [%d:%d]: %w", i, r.Start, r.End, err)
			}
			if len(out) != r.Len() {
				return fmt.Errorf("batch %d [%d:%d]: got %d results for %d items", i, r.Start, r.End, len(out), r.Len())
			}
			parts[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]R, 0, len(items))
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, nil
}

// Each runs n independent tasks and returns their results indexed by task.
func Each[R any](ctx context.Context, e Executor, n int, fn func(context.Context, int) (R, error)) ([]R, error) {
	out := make([]R, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := fn(gctx, i)
			if err != nil {
				return fmt.Errorf("task %d: %w", i, err)
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
