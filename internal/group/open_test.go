package group

import (
	"context"
	"testing"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     Config
		members int
		wantErr bool
	}{
		{name: "default is single", cfg: Config{}, members: 1},
		{name: "single", cfg: Config{Mode: "single"}, members: 1},
		{name: "local", cfg: Config{Mode: "local", Size: 4}, members: 4},
		{name: "local zero size", cfg: Config{Mode: "local", Size: 0}, wantErr: true},
		{name: "blob", cfg: Config{Mode: "blob", BucketURL: "mem://", RunID: "r1", Rank: 1, Size: 2}, members: 1},
		{name: "blob without run id", cfg: Config{Mode: "blob", BucketURL: "mem://", Size: 2}, wantErr: true},
		{name: "unknown", cfg: Config{Mode: "mpi"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups, closeFn, err := Open(ctx, tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() error: %v", err)
			}
			defer closeFn()

			if len(groups) != tt.members {
				t.Fatalf("got %d members, want %d", len(groups), tt.members)
			}
			for i, g := range groups {
				if tt.members > 1 && g.Rank() != i {
					t.Errorf("member %d has rank %d", i, g.Rank())
				}
			}
			if tt.cfg.Mode == "blob" && groups[0].Rank() != 1 {
				t.Errorf("blob rank = %d, want 1", groups[0].Rank())
			}
		})
	}
}
