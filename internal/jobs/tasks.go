package jobs

import "fmt"

// Quotas splits total tasks over size processes in contiguous blocks. Every
// process gets total/size tasks and the remainder goes one each to the lowest
// ranks, so entries never differ by more than one.
func Quotas(total, size int) ([]int, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidProcessCount, size)
	}
	if total < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTaskCount, total)
	}

	quotas := make([]int, size)
	base, extra := total/size, total%size
	for r := range quotas {
		quotas[r] = base
		if r < extra {
			quotas[r]++
		}
	}
	return quotas, nil
}
