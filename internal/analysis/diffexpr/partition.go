package diffexpr

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// minChunk keeps tiny inputs on one goroutine
const minChunk = 64

// parallelRanges splits [0, n) into contiguous ranges and runs fn on up to
// workers goroutines. Each range is owned by exactly one call, so fn may write
// to index-addressed output without locking.
func parallelRanges(ctx context.Context, n, workers int, fn func(lo, hi int) error) error {
	if n == 0 {
		return ctx.Err()
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	chunk := max((n+workers-1)/workers, minChunk)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += chunk {
		lo, hi := lo, min(lo+chunk, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(lo, hi)
		})
	}
	return g.Wait()
}
