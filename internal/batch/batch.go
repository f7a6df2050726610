// Package batch splits endpoint sets into vendor-sized chunks and runs one task per
// chunk with bounded concurrency.
package batch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds in-flight chunk calls when the caller does not choose.
const DefaultConcurrency = 4

// Split cuts items into consecutive chunks of at most size elements, keeping order.
// A size <= 0 means no limit: all items form one chunk. An empty input yields no chunks.
func Split[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || size >= len(items) {
		return [][]T{items}
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}

// Run calls fn once per item (typically a chunk from Split), at most limit at a time,
// and returns the results in item order. fn owns failure handling: it must turn errors
// into a result value, which keeps one failing call from cancelling its siblings. Each
// task writes only its own slot, so no locking is needed.
func Run[T, R any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, item T) R) []R {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results
	}
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		g.Go(func() error {
			results[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
