package engine

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// parallel calls fn for every index in [0, n) on at most workers goroutines.
// Each call owns slot i of whatever output slice the caller pre-sized, so no
// locking is needed and output order equals input order.
func parallel(ctx context.Context, n, workers int, fn func(ctx context.Context, i int) error) error {
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
