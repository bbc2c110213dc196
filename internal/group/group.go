// Package group provides the process-group capability the distributor runs on:
// a rank, a size and a sum reduction every member observes identically.
package group

import (
	"context"
	"errors"
	"fmt"
)

// ErrAborted is returned by collectives once any member has aborted the group.
var ErrAborted = errors.New("process group aborted")

// ErrLengthMismatch is returned when members contribute vectors of different lengths.
var ErrLengthMismatch = errors.New("reduction length mismatch")

// Group is one member's view of a process group.
type Group interface {
	// Rank returns this member's zero-based identity.
	Rank() int

	// Size returns the number of members.
	Size() int

	// AllreduceSum blocks until every member has contributed values and
	// returns their element-wise sum. All members receive the same result.
	AllreduceSum(ctx context.Context, values []int64) ([]int64, error)

	// Abort fails the group for every member: pending and future collectives
	// return an error wrapping ErrAborted.
	Abort(ctx context.Context, cause error) error
}

// AbortError carries the rank and cause of an abort.
type AbortError struct {
	Rank   int
	Reason string
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("%v by rank %d: %s", ErrAborted, e.Rank, e.Reason)
}

func (e *AbortError) Unwrap() error { return ErrAborted }

// Single is the group of one process. Reductions return their input.
type Single struct {
	aborted error
}

// NewSingle returns a one-member group.
func NewSingle() *Single { return &Single{} }

func (s *Single) Rank() int { return 0 }
func (s *Single) Size() int { return 1 }

func (s *Single) AllreduceSum(ctx context.Context, values []int64) ([]int64, error) {
	if s.aborted != nil {
		return nil, s.aborted
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]int64(nil), values...), nil
}

func (s *Single) Abort(_ context.Context, cause error) error {
	s.aborted = &AbortError{Rank: 0, Reason: reason(cause)}
	return nil
}

func reason(cause error) string {
	if cause == nil {
		return "unknown"
	}
	return cause.Error()
}
