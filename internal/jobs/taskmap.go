package jobs

import "fmt"

// Task identifies one column by its position on the sampled axes.
type Task struct {
	I int `json:"i"`
	J int `json:"j"`
}

// NewTaskMap lists every (i, j) pair of an nx by ny sampling in row-major
// order: i is the outer index and j varies fastest.
func NewTaskMap(nx, ny int) []Task {
	if nx <= 0 || ny <= 0 {
		return []Task{}
	}
	tasks := make([]Task, 0, nx*ny)
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			tasks = append(tasks, Task{I: i, J: j})
		}
	}
	return tasks
}

// Offsets returns the running prefix sum of quotas: the index of the first
// task-map entry owned by each rank.
func Offsets(quotas []int) []int {
	offsets := make([]int, len(quotas))
	k := 0
	for r, q := range quotas {
		offsets[r] = k
		k += q
	}
	return offsets
}

// BuildTaskMap builds the canonical task map for an nx by ny sampling and
// returns it together with the starting offset of rank.
func BuildTaskMap(quotas []int, nx, ny, rank int) ([]Task, int, error) {
	if rank < 0 || rank >= len(quotas) {
		return nil, 0, fmt.Errorf("%w: rank %d of %d", ErrInvalidRank, rank, len(quotas))
	}

	taskMap := NewTaskMap(nx, ny)
	offsets := Offsets(quotas)

	last := len(quotas) - 1
	if covered := offsets[last] + quotas[last]; covered != len(taskMap) {
		return nil, 0, fmt.Errorf("%w: quotas cover %d of %d tasks", ErrQuotaMismatch, covered, len(taskMap))
	}

	return taskMap, offsets[rank], nil
}
