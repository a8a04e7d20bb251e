/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package orch

import (
	"context"

	"github.com/caldera-data/retl/rec"
	"golang.org/x/sync/errgroup"
)

// ForEachFileLimited runs fn over jobs with at most limit concurrent
// invocations. limit<=1 runs sequentially in job order; a returned error
// from any job cancels the rest via the group's context.
func ForEachFileLimited(ctx context.Context, jobs []rec.FileJob, limit int, fn func(context.Context, rec.FileJob) error) error {
	if limit <= 1 {
		for _, j := range jobs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, j); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, j := range jobs {
		j := j
		g.Go(func() error { return fn(gctx, j) })
	}
	return g.Wait()
}
