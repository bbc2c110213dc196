package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/withObsrvr/column-distributor/internal/group"
	"github.com/withObsrvr/column-distributor/internal/jobs"
)

func TestFileManagerSaveLoad(t *testing.T) {
	m, err := NewManager(Config{Enabled: true, Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	ctx := context.Background()
	if _, err := m.Load(ctx, "run-1", 2); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("Load on empty dir = %v, want ErrNoCheckpoint", err)
	}

	cp := &Checkpoint{
		RunID:       "run-1",
		Rank:        2,
		Size:        4,
		Fingerprint: "sha256:feed",
		NextTask:    3,
		Counters:    jobs.Counters{Processed: 3, Converged: 2, Crashed: 1},
		UpdatedAt:   time.Now().UTC(),
	}
	if err := m.Save(ctx, cp); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := m.Load(ctx, "run-1", 2)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.NextTask != 3 || got.Counters != cp.Counters || got.Fingerprint != cp.Fingerprint {
		t.Errorf("loaded %+v, want %+v", got, cp)
	}

	// Other ranks keep separate files.
	if _, err := m.Load(ctx, "run-1", 1); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("Load(rank 1) = %v, want ErrNoCheckpoint", err)
	}
}

func TestNoopManager(t *testing.T) {
	m, err := NewManager(Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	ctx := context.Background()
	if err := m.Save(ctx, &Checkpoint{RunID: "r"}); err != nil {
		t.Errorf("Save = %v", err)
	}
	if _, err := m.Load(ctx, "r", 0); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("Load = %v, want ErrNoCheckpoint", err)
	}
}

func TestCheckpointMatches(t *testing.T) {
	plan, err := jobs.Distribute(group.NewSingle(), jobs.Grid{NX: 4, NY: 4}, jobs.Region{})
	if err != nil {
		t.Fatalf("Distribute failed: %v", err)
	}
	other, err := jobs.Distribute(group.NewSingle(), jobs.Grid{NX: 4, NY: 4}, jobs.Region{XStride: 2})
	if err != nil {
		t.Fatalf("Distribute failed: %v", err)
	}

	base := Checkpoint{RunID: "r", Rank: 0, Size: 1, Fingerprint: plan.Fingerprint(), NextTask: 5}

	tests := []struct {
		name string
		cp   Checkpoint
		want bool
	}{
		{"same plan", base, true},
		{"finished window", func() Checkpoint { c := base; c.NextTask = 16; return c }(), true},
		{"other run", func() Checkpoint { c := base; c.RunID = "x"; return c }(), false},
		{"other size", func() Checkpoint { c := base; c.Size = 2; return c }(), false},
		{"other region", func() Checkpoint { c := base; c.Fingerprint = other.Fingerprint(); return c }(), false},
		{"past window", func() Checkpoint { c := base; c.NextTask = 17; return c }(), false},
	}
	for _, tt := range tests {
		if got := tt.cp.Matches("r", plan); got != tt.want {
			t.Errorf("%s: Matches = %v, want %v", tt.name, got, tt.want)
		}
	}
}
