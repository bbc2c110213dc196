package runner

import (
	"context"
	"testing"

	"github.com/withObsrvr/column-distributor/internal/jobs"
)

func TestExecSolver(t *testing.T) {
	col := jobs.Column{Task: jobs.Task{I: 1, J: 2}, Index: 4, X: 7, Y: 9}

	tests := []struct {
		name    string
		script  string
		want    Status
		wantErr bool
	}{
		{name: "converged", script: "exit 0", want: StatusConverged},
		{name: "not converged", script: "exit 2", want: StatusNotConverged},
		{name: "crashed", script: "exit 3", want: StatusCrashed, wantErr: true},
		{name: "column env", script: `test "$COLUMN_I$COLUMN_J$COLUMN_X$COLUMN_Y" = "1279"`, want: StatusConverged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &ExecSolver{Command: []string{"/bin/sh", "-c", tt.script}, NotConvergedExit: 2}
			got, err := s.Solve(context.Background(), col)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Solve() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Solve() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExecSolver_EmptyCommand(t *testing.T) {
	s := &ExecSolver{}
	got, err := s.Solve(context.Background(), jobs.Column{})
	if err == nil {
		t.Fatal("expected error for empty command")
	}
	if got != StatusCrashed {
		t.Errorf("Solve() = %v, want crashed", got)
	}
}
