package jobs

import "errors"

var (
	// ErrInvalidStride is returned by Range for a stride below 1.
	ErrInvalidStride = errors.New("stride must be at least 1")

	// ErrInvalidProcessCount is returned when the group has no members.
	ErrInvalidProcessCount = errors.New("process count must be at least 1")

	// ErrInvalidTaskCount is returned for a negative task total.
	ErrInvalidTaskCount = errors.New("task count must not be negative")

	// ErrTooManyProcesses is the fatal distribution failure: some process would
	// hold no column and block forever in the final reduction.
	ErrTooManyProcesses = errors.New("more processes than tasks")

	// ErrInvalidRank is returned when a rank lies outside [0, size).
	ErrInvalidRank = errors.New("rank out of range")

	// ErrQuotaMismatch is returned when a quota table does not cover the task map.
	ErrQuotaMismatch = errors.New("quota table does not match task count")

	// ErrPlanReleased is returned when a finished plan is used again.
	ErrPlanReleased = errors.New("plan already released")
)
