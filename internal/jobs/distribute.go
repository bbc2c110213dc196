package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Topology is the part of a process group the distributor needs.
type Topology interface {
	Rank() int
	Size() int
}

// Column is one task of a plan resolved to grid coordinates.
type Column struct {
	Task

	Index int // position in the owning rank's window
	X     int // grid index along x
	Y     int // grid index along y
}

// Plan is the distribution computed by one process. It is never modified after
// Distribute returns, except for Finish releasing its storage.
type Plan struct {
	rank   int
	size   int
	grid   Grid
	region Region

	xaxis   []int
	yaxis   []int
	taskMap []Task
	start   int
	ntasks  int

	released bool
}

// Distribute validates the region against the grid, samples both axes and
// assigns this process its contiguous window of the global task map.
//
// It fails with ErrTooManyProcesses when the group is larger than the number
// of sampled columns. Callers must treat that as fatal for the whole group.
func Distribute(t Topology, grid Grid, region Region) (*Plan, error) {
	rank, size := t.Rank(), t.Size()
	if size < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidProcessCount, size)
	}
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("%w: rank %d of %d", ErrInvalidRank, rank, size)
	}

	region = region.Clamp(grid)

	xaxis, err := Range(region.X0, region.X1, region.XStride)
	if err != nil {
		return nil, fmt.Errorf("x axis: %w", err)
	}
	yaxis, err := Range(region.Y0, region.Y1, region.YStride)
	if err != nil {
		return nil, fmt.Errorf("y axis: %w", err)
	}

	total := len(xaxis) * len(yaxis)
	if size > total {
		return nil, fmt.Errorf("%w: %d processes, %d tasks", ErrTooManyProcesses, size, total)
	}

	quotas, err := Quotas(total, size)
	if err != nil {
		return nil, err
	}

	taskMap, start, err := BuildTaskMap(quotas, len(xaxis), len(yaxis), rank)
	if err != nil {
		return nil, err
	}

	return &Plan{
		rank:    rank,
		size:    size,
		grid:    grid,
		region:  region,
		xaxis:   xaxis,
		yaxis:   yaxis,
		taskMap: taskMap,
		start:   start,
		ntasks:  quotas[rank],
	}, nil
}

// Rank returns the rank the plan was computed for.
func (p *Plan) Rank() int { return p.rank }

// Size returns the group size the plan was computed for.
func (p *Plan) Size() int { return p.size }

// Grid returns the grid extent.
func (p *Plan) Grid() Grid { return p.grid }

// Region returns the region after clamping.
func (p *Plan) Region() Region { return p.region }

// TotalTasks returns the number of columns over the whole group.
func (p *Plan) TotalTasks() int { return len(p.xaxis) * len(p.yaxis) }

// Start returns the offset of this process's first task in the task map.
func (p *Plan) Start() int { return p.start }

// NTasks returns the number of tasks assigned to this process.
func (p *Plan) NTasks() int { return p.ntasks }

// Released reports whether Finish has released the plan.
func (p *Plan) Released() bool { return p.released }

// XAxis returns a copy of the sampled x coordinates.
func (p *Plan) XAxis() []int { return append([]int(nil), p.xaxis...) }

// YAxis returns a copy of the sampled y coordinates.
func (p *Plan) YAxis() []int { return append([]int(nil), p.yaxis...) }

// TaskMap returns a copy of the global task map.
func (p *Plan) TaskMap() []Task { return append([]Task(nil), p.taskMap...) }

// Window returns a copy of the tasks owned by this process, in task-map order.
func (p *Plan) Window() []Task {
	if p.released {
		return nil
	}
	return append([]Task(nil), p.taskMap[p.start:p.start+p.ntasks]...)
}

// Column resolves the k-th task of this process's window.
func (p *Plan) Column(k int) (Column, error) {
	if p.released {
		return Column{}, ErrPlanReleased
	}
	if k < 0 || k >= p.ntasks {
		return Column{}, fmt.Errorf("window index %d out of range [0, %d)", k, p.ntasks)
	}
	t := p.taskMap[p.start+k]
	return Column{Index: k, Task: t, X: p.xaxis[t.I], Y: p.yaxis[t.J]}, nil
}

// Owner returns the rank owning task-map entry k.
func (p *Plan) Owner(k int) (int, error) {
	total := p.TotalTasks()
	if k < 0 || k >= total {
		return 0, fmt.Errorf("task index %d out of range [0, %d)", k, total)
	}
	quotas, err := Quotas(total, p.size)
	if err != nil {
		return 0, err
	}
	offsets := Offsets(quotas)
	for r := len(offsets) - 1; r > 0; r-- {
		if k >= offsets[r] {
			return r, nil
		}
	}
	return 0, nil
}

// Fingerprint identifies the global inputs of the plan. Two processes of the
// same run always produce the same fingerprint.
func (p *Plan) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "grid=%d,%d;region=%d,%d,%d,%d,%d,%d;size=%d",
		p.grid.NX, p.grid.NY,
		p.region.X0, p.region.X1, p.region.XStride,
		p.region.Y0, p.region.Y1, p.region.YStride,
		p.size)
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

func (p *Plan) release() {
	p.xaxis = nil
	p.yaxis = nil
	p.taskMap = nil
	p.released = true
}
