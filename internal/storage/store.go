package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/withObsrvr/column-distributor/internal/jobs"
)

// ErrNotFound is returned when a requested run artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// RunRef locates the artifacts of one run.
type RunRef struct {
	RunID string
}

// DirPath returns the directory holding the run's artifacts.
func (r RunRef) DirPath(prefix string) string {
	return fmt.Sprintf("%sruns/%s", prefix, r.RunID)
}

// TaskMapPath returns the key of the exported task map.
func (r RunRef) TaskMapPath(prefix string) string {
	return r.DirPath(prefix) + "/taskmap.parquet"
}

// ReportPath returns the key of the run report.
func (r RunRef) ReportPath(prefix string, compressed bool) string {
	if compressed {
		return r.DirPath(prefix) + "/report.json.zst"
	}
	return r.DirPath(prefix) + "/report.json"
}

// Report is the end-of-run summary written by rank 0 after finalization.
type Report struct {
	RunID      string        `json:"run_id"`
	Grid       jobs.Grid     `json:"grid"`
	Region     jobs.Region   `json:"region"`
	Processes  int           `json:"processes"`
	TotalTasks int           `json:"total_tasks"`
	Totals     jobs.Counters `json:"totals"`
	TaskMap    *TableInfo    `json:"taskmap,omitempty"`
	Producer   ProducerInfo  `json:"producer"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// TableInfo describes an exported table.
type TableInfo struct {
	File     string `json:"file"`
	Checksum string `json:"checksum"`
	RowCount int64  `json:"row_count"`
	ByteSize int64  `json:"byte_size"`
}

// ProducerInfo describes the software that produced the run.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

// Store persists run artifacts.
type Store interface {
	// WriteTaskMap writes the encoded task map.
	WriteTaskMap(ctx context.Context, ref RunRef, parquetBytes []byte) error

	// WriteReport writes the run report.
	WriteReport(ctx context.Context, ref RunRef, report *Report) error

	// ReadReport reads back a run report.
	ReadReport(ctx context.Context, ref RunRef) (*Report, error)

	// Exists checks whether a key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	// Prefix returns the key prefix the store writes under.
	Prefix() string

	// Close releases any resources.
	Close() error
}

// StorageConfig configures the storage backend.
type StorageConfig struct {
	Backend string // "local" | "mem" | "gcs" | "s3"

	// Local filesystem
	LocalDir string

	// GCS or S3 bucket name
	Bucket string

	// S3 (also works for B2, R2, MinIO)
	S3Endpoint string
	S3Region   string

	// Common
	Prefix          string
	CompressReports bool
}

// NewStore creates a storage backend based on configuration.
func NewStore(ctx context.Context, cfg StorageConfig) (Store, error) {
	opts := Options{Prefix: cfg.Prefix, CompressReports: cfg.CompressReports}

	switch cfg.Backend {
	case "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		return NewLocalStore(cfg.LocalDir, opts)
	case "mem":
		return NewMemStore(opts), nil
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("Bucket required for gcs backend")
		}
		return NewGCSStore(ctx, cfg.Bucket, opts)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("Bucket required for s3 backend")
		}
		return NewS3Store(ctx, cfg.Bucket, cfg.S3Endpoint, cfg.S3Region, opts)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
