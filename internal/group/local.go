package group

import (
	"context"
	"fmt"
	"sync"
)

// localState is shared by all members of a Local group. Reductions proceed in
// generations: the last member to arrive publishes the sum and advances gen.
type localState struct {
	mu      sync.Mutex
	cond    *sync.Cond
	size    int
	gen     uint64
	arrived int
	sum     []int64
	result  []int64
	err     error
}

// Local is one member of an in-process group. Members are meant to run on
// separate goroutines, one per rank.
type Local struct {
	rank  int
	state *localState
}

// NewLocal returns the members of an in-process group of the given size,
// indexed by rank.
func NewLocal(size int) ([]*Local, error) {
	if size < 1 {
		return nil, fmt.Errorf("local group size must be at least 1, got %d", size)
	}

	st := &localState{size: size}
	st.cond = sync.NewCond(&st.mu)

	members := make([]*Local, size)
	for r := range members {
		members[r] = &Local{rank: r, state: st}
	}
	return members, nil
}

func (l *Local) Rank() int { return l.rank }
func (l *Local) Size() int { return l.state.size }

// AllreduceSum waits for every member of the group. Cancelling ctx while
// waiting aborts the group, since the other members could never complete the
// reduction without this one.
func (l *Local) AllreduceSum(ctx context.Context, values []int64) ([]int64, error) {
	st := l.state

	stop := context.AfterFunc(ctx, func() {
		st.mu.Lock()
		st.cond.Broadcast()
		st.mu.Unlock()
	})
	defer stop()

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.err != nil {
		return nil, st.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if st.sum == nil {
		st.sum = make([]int64, len(values))
	}
	if len(values) != len(st.sum) {
		st.err = fmt.Errorf("%w: rank %d sent %d values, expected %d", ErrLengthMismatch, l.rank, len(values), len(st.sum))
		st.cond.Broadcast()
		return nil, st.err
	}
	for i, v := range values {
		st.sum[i] += v
	}

	gen := st.gen
	st.arrived++
	if st.arrived == st.size {
		st.result = st.sum
		st.sum = nil
		st.arrived = 0
		st.gen++
		st.cond.Broadcast()
		return append([]int64(nil), st.result...), nil
	}

	for st.gen == gen && st.err == nil && ctx.Err() == nil {
		st.cond.Wait()
	}
	if st.gen != gen {
		// The result of our generation cannot be overwritten before we read
		// it: the next generation needs our contribution to complete.
		return append([]int64(nil), st.result...), nil
	}
	if st.err != nil {
		return nil, st.err
	}

	st.err = &AbortError{Rank: l.rank, Reason: ctx.Err().Error()}
	st.cond.Broadcast()
	return nil, ctx.Err()
}

func (l *Local) Abort(_ context.Context, cause error) error {
	st := l.state
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.err == nil {
		st.err = &AbortError{Rank: l.rank, Reason: reason(cause)}
	}
	st.cond.Broadcast()
	return nil
}
