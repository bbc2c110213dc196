package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/withObsrvr/column-distributor/internal/jobs"
)

var (
	// ErrNoCheckpoint is returned when no checkpoint exists.
	ErrNoCheckpoint = errors.New("no checkpoint found")
)

// Checkpoint records how far one rank has worked through its window.
type Checkpoint struct {
	RunID       string        `json:"run_id"`
	Rank        int           `json:"rank"`
	Size        int           `json:"size"`
	Fingerprint string        `json:"plan_fingerprint"`
	NextTask    int           `json:"next_task"`
	Counters    jobs.Counters `json:"counters"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Matches reports whether the checkpoint was written for the same run, rank
// and plan. A checkpoint from a different plan must never be resumed.
func (cp *Checkpoint) Matches(runID string, plan *jobs.Plan) bool {
	return cp.RunID == runID &&
		cp.Rank == plan.Rank() &&
		cp.Size == plan.Size() &&
		cp.Fingerprint == plan.Fingerprint() &&
		cp.NextTask >= 0 &&
		cp.NextTask <= plan.NTasks()
}

// Manager handles checkpoint persistence and retrieval.
type Manager interface {
	// Load reads the checkpoint of a rank.
	Load(ctx context.Context, runID string, rank int) (*Checkpoint, error)

	// Save persists the checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error
}

// Config configures the checkpoint manager.
type Config struct {
	Enabled bool
	Dir     string // Directory for checkpoint files
}

// NewManager creates a checkpoint manager based on configuration.
func NewManager(cfg Config) (Manager, error) {
	if !cfg.Enabled {
		return &noopManager{}, nil
	}

	// Ensure checkpoint directory exists
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
	}

	return &fileManager{dir: cfg.Dir}, nil
}

// fileManager persists checkpoints to local files, one per rank.
type fileManager struct {
	dir string
}

func (m *fileManager) checkpointPath(runID string, rank int) string {
	filename := fmt.Sprintf("checkpoint_%s_rank%d.json", runID, rank)
	return filepath.Join(m.dir, filename)
}

// Load reads the checkpoint from file.
func (m *fileManager) Load(ctx context.Context, runID string, rank int) (*Checkpoint, error) {
	data, err := os.ReadFile(m.checkpointPath(runID, rank))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint file: %w", err)
	}

	return &cp, nil
}

// Save persists the checkpoint to file.
func (m *fileManager) Save(ctx context.Context, cp *Checkpoint) error {
	path := m.checkpointPath(cp.RunID, cp.Rank)

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Write atomically
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}

	return nil
}

// noopManager is a no-op checkpoint manager for when checkpointing is disabled.
type noopManager struct{}

func (m *noopManager) Load(ctx context.Context, runID string, rank int) (*Checkpoint, error) {
	return nil, ErrNoCheckpoint
}

func (m *noopManager) Save(ctx context.Context, cp *Checkpoint) error {
	return nil
}
