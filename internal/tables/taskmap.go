// Package tables encodes run tables for export.
package tables

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/withObsrvr/column-distributor/internal/jobs"
)

// TaskMapTable is the table name of the exported task map.
const TaskMapTable = "taskmap"

// TaskRow is one entry of the global task map together with its owner.
type TaskRow struct {
	TaskIndex int64 `parquet:"task_index"`
	I         int32 `parquet:"i"`
	J         int32 `parquet:"j"`
	X         int32 `parquet:"x"`
	Y         int32 `parquet:"y"`
	Rank      int32 `parquet:"rank"`
}

// TaskMapOutput is the encoded task map.
type TaskMapOutput struct {
	Parquet  []byte
	Checksum string
	RowCount int64
}

// TaskMapRows expands a plan into one row per task, in task-map order.
func TaskMapRows(plan *jobs.Plan) ([]TaskRow, error) {
	if plan.Released() {
		return nil, jobs.ErrPlanReleased
	}

	quotas, err := jobs.Quotas(plan.TotalTasks(), plan.Size())
	if err != nil {
		return nil, err
	}

	xs, ys := plan.XAxis(), plan.YAxis()
	taskMap := plan.TaskMap()
	rows := make([]TaskRow, 0, len(taskMap))

	k := 0
	for rank, q := range quotas {
		for n := 0; n < q; n++ {
			t := taskMap[k]
			rows = append(rows, TaskRow{
				TaskIndex: int64(k),
				I:         int32(t.I),
				J:         int32(t.J),
				X:         int32(xs[t.I]),
				Y:         int32(ys[t.J]),
				Rank:      int32(rank),
			})
			k++
		}
	}
	return rows, nil
}

// EncodeTaskMap writes the plan's task map as zstd-compressed parquet.
func EncodeTaskMap(plan *jobs.Plan) (*TaskMapOutput, error) {
	rows, err := TaskMapRows(plan)
	if err != nil {
		return nil, fmt.Errorf("expand task map: %w", err)
	}

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[TaskRow](&buf, parquet.Compression(&parquet.Zstd))
	if _, err := w.Write(rows); err != nil {
		return nil, fmt.Errorf("write task map rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close task map writer: %w", err)
	}

	data := buf.Bytes()
	return &TaskMapOutput{
		Parquet:  data,
		Checksum: ComputeChecksum(data),
		RowCount: int64(len(rows)),
	}, nil
}

// DecodeTaskMap reads rows written by EncodeTaskMap.
func DecodeTaskMap(data []byte) ([]TaskRow, error) {
	rows, err := parquet.Read[TaskRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read task map: %w", err)
	}
	return rows, nil
}
