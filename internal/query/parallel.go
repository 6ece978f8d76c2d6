// Package query implements the multi-stage query pipeline (C10).
package query

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ParallelSearch runs each of fns concurrently, recovering from panics and
// cancelling the remaining work on the first error, then returns their
// results in the same order as fns. Grounded on the teacher's
// errgroup-coordinated fan-out (pkg/agent/workflowagent/parallel.go),
// specialised here to the two-way dense/lexical recall fan-out (§4.9).
func ParallelSearch[T any](ctx context.Context, fns ...func(context.Context) (T, error)) ([]T, error) {
	results := make([]T, len(fns))
	g, gctx := errgroup.WithContext(ctx)

	for i, fn := range fns {
		i, fn := i, fn
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("query: parallel search task %d panicked: %v", i, r)
				}
			}()
			res, err := fn(gctx)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
