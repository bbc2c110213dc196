package jobs

import (
	"context"
	"fmt"
)

// Reducer is a Topology that can sum values across the whole group. Every
// member must enter AllreduceSum for any of them to return.
type Reducer interface {
	Topology
	AllreduceSum(ctx context.Context, values []int64) ([]int64, error)
}

// Counters are the run statistics of one process.
type Counters struct {
	Processed    int64 `json:"processed"`
	Crashed      int64 `json:"crashed"`
	Converged    int64 `json:"converged"`
	NotConverged int64 `json:"not_converged"`

	// BackgroundRecords is bookkeeping for the background record writer. It
	// starts at zero for every plan and is not reduced.
	BackgroundRecords int64 `json:"background_records"`
}

func (c Counters) reducible() []int64 {
	return []int64{c.Processed, c.Crashed, c.Converged, c.NotConverged}
}

// Finish replaces the local counters with their sums over the group and then
// releases the plan. It must be called once by every member, after each has
// worked through its window.
//
// On a failed reduction neither the counters nor the plan are modified.
func Finish(ctx context.Context, r Reducer, plan *Plan, c *Counters) error {
	if plan.Released() {
		return ErrPlanReleased
	}

	local := c.reducible()
	global, err := r.AllreduceSum(ctx, local)
	if err != nil {
		return fmt.Errorf("reduce run counters: %w", err)
	}
	if len(global) != len(local) {
		return fmt.Errorf("reduce run counters: got %d values, want %d", len(global), len(local))
	}

	c.Processed = global[0]
	c.Crashed = global[1]
	c.Converged = global[2]
	c.NotConverged = global[3]

	plan.release()
	return nil
}
