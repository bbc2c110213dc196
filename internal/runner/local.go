package runner

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/withObsrvr/column-distributor/internal/group"
)

// RunAll runs one runner per member of groups concurrently and waits for all
// of them. It is how a process hosting every rank of a local group executes
// a run. Results are indexed like groups; the first error is returned.
func RunAll(ctx context.Context, groups []group.Group, newSolver func(rank int) Solver, opts Options) ([]*Result, error) {
	results := make([]*Result, len(groups))

	var eg errgroup.Group
	for i, g := range groups {
		eg.Go(func() error {
			res, err := New(g, newSolver(g.Rank()), opts).Run(ctx)
			results[i] = res
			return err
		})
	}

	if err := eg.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
