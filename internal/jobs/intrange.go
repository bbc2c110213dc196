package jobs

import "fmt"

// Range returns start, start+stride, ... up to but excluding end, the same
// sequence a half-open range(start, end, stride) produces. The result is empty
// when end <= start.
func Range(start, end, stride int) ([]int, error) {
	if stride < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidStride, stride)
	}
	if end <= start {
		return []int{}, nil
	}

	n := (end - start) / stride
	if (end-start)%stride > 0 {
		n++
	}

	out := make([]int, n)
	for i := range out {
		out[i] = start + i*stride
	}
	return out, nil
}
