package parallel

import (
	"context"
	"runtime"
	"sync"

	"github.com/YuminosukeSato/goforest/pkg/errors"
)

// NumWorkers resolves a requested worker count: values <= 0 mean one
// worker per CPU core. The result never exceeds items (and is at least 1).
func NumWorkers(requested, items int) int {
	n := requested
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > items {
		n = items
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Parallelize divides items into contiguous ranges, one per worker, and
// runs fn(start, end) for each range concurrently.
func Parallelize(items, workers int, fn func(start, end int)) {
	if items <= 0 {
		return
	}
	numWorkers := NumWorkers(workers, items)

	// ceiling division
	chunkSize := (items + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > items {
			end = items
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// ParallelizeWithThreshold runs fn sequentially when items <= threshold.
func ParallelizeWithThreshold(items, threshold, workers int, fn func(start, end int)) {
	if items <= threshold {
		fn(0, items)
		return
	}
	Parallelize(items, workers, fn)
}

// ForEach calls fn(ctx, i) for every i in [0, items) using a pool of
// workers pulling indices from a shared channel. The first error returned
// by fn, or a cancellation of ctx, stops the remaining work and is
// returned. A panic in fn is converted into an error.
func ForEach(ctx context.Context, items, workers int, fn func(ctx context.Context, i int) error) error {
	if items <= 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	indices := make(chan int)
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	numWorkers := NumWorkers(workers, items)
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				if err := runOne(ctx, i, fn); err != nil {
					fail(err)
				}
			}
		}()
	}

feed:
	for i := 0; i < items; i++ {
		select {
		case <-ctx.Done():
			break feed
		case indices <- i:
		}
	}
	close(indices)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	// the parent context may have been cancelled while feeding
	return errors.WithStack(context.Cause(ctx))
}

func runOne(ctx context.Context, i int, fn func(ctx context.Context, i int) error) error {
	if ctx.Err() != nil {
		return nil
	}
	return errors.SafeExecute("parallel.ForEach", func() error { return fn(ctx, i) })
}
