package runner

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Job is one remote call; failures are expected to be carried in T, not returned
type Job[T any] func(context.Context) T

// Gather runs every job concurrently, waits for all of them, and returns the results
// in job order. limit caps the number of jobs in flight, 0 for no cap.
func Gather[T any](ctx context.Context, limit int, jobs []Job[T]) []T {
	out := make([]T, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			out[i] = job(gctx)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
