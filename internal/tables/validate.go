package tables

import (
	"fmt"
	"strings"

	"github.com/withObsrvr/column-distributor/internal/jobs"
)

// ValidationResult contains the outcome of task map validation.
type ValidationResult struct {
	Passed   bool
	Errors   []string
	Warnings []string
	RowCount int64
	ByteSize int64
}

// Err folds the validation errors into one error, or returns nil.
func (r ValidationResult) Err() error {
	if r.Passed {
		return nil
	}
	return fmt.Errorf("task map validation failed: %s", strings.Join(r.Errors, "; "))
}

// ValidateTaskMap checks an encoded task map against the plan it was built
// from before it is exported. It verifies:
//   - the parquet payload is present and matches its checksum
//   - the row count equals the plan's task total
//   - rows are in task-map order and visit every (i, j) pair exactly once
//   - rank ownership follows the quota split
func ValidateTaskMap(plan *jobs.Plan, out *TaskMapOutput) ValidationResult {
	result := ValidationResult{Passed: true}
	fail := func(format string, args ...any) {
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
		result.Passed = false
	}

	if plan.Released() {
		fail("plan already released")
		return result
	}
	if out == nil {
		fail("no task map output provided")
		return result
	}

	result.ByteSize = int64(len(out.Parquet))
	result.RowCount = out.RowCount

	if len(out.Parquet) == 0 {
		fail("empty parquet data for table %s", TaskMapTable)
		return result
	}

	if !strings.HasPrefix(out.Checksum, "sha256:") {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("checksum may be in non-standard format: %s", out.Checksum[:min(20, len(out.Checksum))]))
	}
	if !VerifyChecksum(out.Parquet, out.Checksum) {
		fail("checksum mismatch for table %s", TaskMapTable)
	}

	total := plan.TotalTasks()
	if out.RowCount != int64(total) {
		fail("row count mismatch: have %d, expected %d", out.RowCount, total)
	}

	rows, err := DecodeTaskMap(out.Parquet)
	if err != nil {
		fail("decode: %v", err)
		return result
	}
	if len(rows) != total {
		fail("decoded %d rows, expected %d", len(rows), total)
		return result
	}

	nx, ny := len(plan.XAxis()), len(plan.YAxis())
	seen := make([]bool, total)
	perRank := make([]int, plan.Size())
	for k, row := range rows {
		if row.TaskIndex != int64(k) {
			fail("row %d has task index %d", k, row.TaskIndex)
			return result
		}
		i, j := int(row.I), int(row.J)
		if i < 0 || i >= nx || j < 0 || j >= ny {
			fail("row %d: task (%d, %d) outside %dx%d", k, i, j, nx, ny)
			return result
		}
		if seen[i*ny+j] {
			fail("row %d: task (%d, %d) assigned twice", k, i, j)
			return result
		}
		seen[i*ny+j] = true

		r := int(row.Rank)
		if r < 0 || r >= len(perRank) {
			fail("row %d: rank %d outside group of %d", k, r, len(perRank))
			return result
		}
		perRank[r]++
	}

	quotas, err := jobs.Quotas(total, plan.Size())
	if err != nil {
		fail("quotas: %v", err)
		return result
	}
	for r, q := range quotas {
		if perRank[r] != q {
			fail("rank %d owns %d tasks, expected %d", r, perRank[r], q)
		}
	}

	return result
}
