package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/withObsrvr/column-distributor/internal/jobs"
)

// Status is the outcome of solving one column.
type Status int

const (
	StatusConverged Status = iota
	StatusNotConverged
	StatusCrashed
)

func (s Status) String() string {
	switch s {
	case StatusConverged:
		return "converged"
	case StatusNotConverged:
		return "not_converged"
	case StatusCrashed:
		return "crashed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Solver works on a single column. A non-nil error means the column crashed;
// the runner counts it and moves on unless the context was cancelled.
type Solver interface {
	Solve(ctx context.Context, col jobs.Column) (Status, error)
}

// SolverFunc adapts a function to the Solver interface.
type SolverFunc func(ctx context.Context, col jobs.Column) (Status, error)

func (f SolverFunc) Solve(ctx context.Context, col jobs.Column) (Status, error) {
	return f(ctx, col)
}

// DryRunSolver reports every column as converged without doing any work.
var DryRunSolver = SolverFunc(func(context.Context, jobs.Column) (Status, error) {
	return StatusConverged, nil
})

// ExecSolver runs an external command once per column. The column is passed
// in the COLUMN_I, COLUMN_J, COLUMN_X and COLUMN_Y environment variables.
// Exit status 0 means converged and NotConvergedExit means not converged; any
// other failure is a crash.
type ExecSolver struct {
	Command          []string
	NotConvergedExit int
	Stdout           io.Writer
	Stderr           io.Writer
}

func (s *ExecSolver) Solve(ctx context.Context, col jobs.Column) (Status, error) {
	if len(s.Command) == 0 {
		return StatusCrashed, errors.New("solver command is empty")
	}

	cmd := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("COLUMN_I=%d", col.I),
		fmt.Sprintf("COLUMN_J=%d", col.J),
		fmt.Sprintf("COLUMN_X=%d", col.X),
		fmt.Sprintf("COLUMN_Y=%d", col.Y),
	)
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr

	err := cmd.Run()
	if err == nil {
		return StatusConverged, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && s.NotConvergedExit != 0 && exitErr.ExitCode() == s.NotConvergedExit {
		return StatusNotConverged, nil
	}
	return StatusCrashed, fmt.Errorf("column x=%d y=%d: %w", col.X, col.Y, err)
}
