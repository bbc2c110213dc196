// Package provenance emits a tamper-evident record of every finished run.
// Events for the same plan are hash-chained so a rerun of a plan can be
// traced back to every earlier run of it.
package provenance

import (
	"time"

	"github.com/withObsrvr/column-distributor/internal/jobs"
)

const (
	eventVersion = "1.0"
	eventType    = "run_completed"
)

// Event is the audit record of one finished run.
type Event struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Run      RunInfo              `json:"run"`
	Totals   jobs.Counters        `json:"totals"`
	Tables   map[string]TableInfo `json:"tables,omitempty"`
	Producer ProducerInfo         `json:"producer"`
	Chain    ChainInfo            `json:"chain"`
}

// RunInfo identifies the run and the plan it executed.
type RunInfo struct {
	RunID       string      `json:"run_id"`
	Fingerprint string      `json:"plan_fingerprint"`
	Grid        jobs.Grid   `json:"grid"`
	Region      jobs.Region `json:"region"`
	Processes   int         `json:"processes"`
	TotalTasks  int         `json:"total_tasks"`
}

// TableInfo contains checksum and metadata for an exported table.
type TableInfo struct {
	Checksum    string `json:"checksum"`
	RowCount    int64  `json:"row_count"`
	StoragePath string `json:"storage_path"`
	ByteSize    int64  `json:"byte_size"`
}

// ProducerInfo identifies the software that produced the run.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha"`
}

// ChainInfo links the event to the previous one of the same chain.
type ChainInfo struct {
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey returns the chain the event belongs to: one chain per plan.
func (r RunInfo) ChainKey() string {
	return r.Fingerprint
}
