package tables

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/withObsrvr/column-distributor/internal/group"
	"github.com/withObsrvr/column-distributor/internal/jobs"
)

func encodeRows(t *testing.T, rows []TaskRow) *TaskMapOutput {
	t.Helper()
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[TaskRow](&buf)
	if _, err := w.Write(rows); err != nil {
		t.Fatalf("write rows: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &TaskMapOutput{Parquet: buf.Bytes(), Checksum: ComputeChecksum(buf.Bytes()), RowCount: int64(len(rows))}
}

func validationPlan(t *testing.T) *jobs.Plan {
	t.Helper()
	plan, err := jobs.Distribute(topology{0, 2}, jobs.Grid{NX: 3, NY: 2}, jobs.Region{XStride: 1, YStride: 1})
	if err != nil {
		t.Fatalf("Distribute failed: %v", err)
	}
	return plan
}

func TestValidateTaskMap(t *testing.T) {
	plan := validationPlan(t)

	good, err := EncodeTaskMap(plan)
	if err != nil {
		t.Fatalf("EncodeTaskMap failed: %v", err)
	}
	goodRows, err := TaskMapRows(plan)
	if err != nil {
		t.Fatalf("TaskMapRows failed: %v", err)
	}

	duplicate := append([]TaskRow(nil), goodRows...)
	duplicate[1].I, duplicate[1].J = duplicate[0].I, duplicate[0].J

	shifted := append([]TaskRow(nil), goodRows...)
	shifted[2].Rank = 1

	tests := []struct {
		name    string
		out     *TaskMapOutput
		wantErr string
	}{
		{name: "valid", out: good},
		{name: "nil output", out: nil, wantErr: "no task map output"},
		{name: "empty parquet", out: &TaskMapOutput{}, wantErr: "empty parquet"},
		{
			name:    "checksum mismatch",
			out:     &TaskMapOutput{Parquet: good.Parquet, Checksum: "sha256:00", RowCount: good.RowCount},
			wantErr: "checksum mismatch",
		},
		{
			name:    "row count mismatch",
			out:     &TaskMapOutput{Parquet: good.Parquet, Checksum: good.Checksum, RowCount: 4},
			wantErr: "row count mismatch",
		},
		{name: "missing rows", out: encodeRows(t, goodRows[:5]), wantErr: "decoded 5 rows"},
		{name: "duplicate task", out: encodeRows(t, duplicate), wantErr: "assigned twice"},
		{name: "wrong owner", out: encodeRows(t, shifted), wantErr: "rank 0 owns 2 tasks, expected 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateTaskMap(plan, tt.out)
			if tt.wantErr == "" {
				if !res.Passed || res.Err() != nil {
					t.Fatalf("expected validation to pass, got %v", res.Errors)
				}
				if res.RowCount != 6 {
					t.Errorf("RowCount = %d, want 6", res.RowCount)
				}
				return
			}
			if res.Passed {
				t.Fatal("expected validation to fail")
			}
			if err := res.Err(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Err() = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateTaskMap_ChecksumFormatWarning(t *testing.T) {
	plan := validationPlan(t)
	out, err := EncodeTaskMap(plan)
	if err != nil {
		t.Fatalf("EncodeTaskMap failed: %v", err)
	}
	out.Checksum = "md5:abc"

	res := ValidateTaskMap(plan, out)
	if len(res.Warnings) == 0 {
		t.Error("expected a checksum format warning")
	}
}

func TestValidateTaskMap_ReleasedPlan(t *testing.T) {
	plan, err := jobs.Distribute(topology{0, 1}, jobs.Grid{NX: 3, NY: 2}, jobs.Region{XStride: 1, YStride: 1})
	if err != nil {
		t.Fatalf("Distribute failed: %v", err)
	}
	out, err := EncodeTaskMap(plan)
	if err != nil {
		t.Fatalf("EncodeTaskMap failed: %v", err)
	}

	var c jobs.Counters
	if err := jobs.Finish(context.Background(), group.NewSingle(), plan, &c); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if res := ValidateTaskMap(plan, out); res.Passed {
		t.Error("expected released plan to fail validation")
	}
}
