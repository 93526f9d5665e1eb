package scheduler

import (
	"context"
)

// Map applies fn to every item with bounded concurrency and returns results
// in input order. All items settle before an aggregate error is returned;
// failed slots hold the zero value.
func Map[T, R any](ctx context.Context, concurrency int, items []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	s := New(concurrency, nil, nil)
	for _, item := range items {
		item := item
		_ = s.Add(TaskFunc(func(ctx context.Context) (interface{}, error) {
			return fn(ctx, item)
		}))
	}

	values, err := s.Run(ctx)
	results := make([]R, len(values))
	for i, v := range values {
		if v != nil {
			results[i] = v.(R)
		}
	}
	return results, err
}

// Filter keeps the items for which pred returns true, preserving input
// order.
func Filter[T any](ctx context.Context, concurrency int, items []T, pred func(context.Context, T) (bool, error)) ([]T, error) {
	keep, err := Map(ctx, concurrency, items, pred)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(items))
	for i, item := range items {
		if keep[i] {
			out = append(out, item)
		}
	}
	return out, nil
}

// Reduce folds items with fn, splitting the input into contiguous chunks
// that are folded concurrently before their partials are combined with the
// initial value. The grouping differs from a strict left fold, so reducers
// must be associative for the result to match sequential reduction.
func Reduce[T any](ctx context.Context, concurrency int, items []T, initial T, fn func(T, T) T) (T, error) {
	if len(items) == 0 {
		return initial, nil
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency()
	}

	chunks := splitChunks(items, concurrency)
	partials, err := Map(ctx, concurrency, chunks, func(_ context.Context, chunk []T) (T, error) {
		acc := chunk[0]
		for _, v := range chunk[1:] {
			acc = fn(acc, v)
		}
		return acc, nil
	})
	if err != nil {
		return initial, err
	}

	acc := initial
	for _, partial := range partials {
		acc = fn(acc, partial)
	}
	return acc, nil
}

// splitChunks divides items into at most n contiguous, non-empty chunks.
func splitChunks[T any](items []T, n int) [][]T {
	if n > len(items) {
		n = len(items)
	}
	chunks := make([][]T, 0, n)
	size := (len(items) + n - 1) / n
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
