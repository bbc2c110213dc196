// Package jobs computes the static distribution of grid columns over a group of
// processes and reduces the per-process run counters once the work is done.
//
// Every process derives the same plan from the same global inputs (grid extent,
// region, strides and group size), so no partition table is ever exchanged. The
// only collective operation is the counter reduction in Finish.
package jobs
