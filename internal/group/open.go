package group

import (
	"context"
	"fmt"
	"time"
)

// Config selects and configures the process group a run uses.
type Config struct {
	Mode         string // "single" | "local" | "blob"
	Size         int
	Rank         int
	BucketURL    string
	PollInterval time.Duration
	RunID        string
}

// Open builds the members of the configured group hosted by this process.
// Single and blob modes host one member; local mode hosts all of them. The
// returned close function releases any resources the members hold.
func Open(ctx context.Context, cfg Config) ([]Group, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Mode {
	case "", "single":
		return []Group{NewSingle()}, noop, nil

	case "local":
		members, err := NewLocal(cfg.Size)
		if err != nil {
			return nil, nil, err
		}
		groups := make([]Group, len(members))
		for i, m := range members {
			groups[i] = m
		}
		return groups, noop, nil

	case "blob":
		if cfg.RunID == "" {
			return nil, nil, fmt.Errorf("blob group requires an explicit run id")
		}
		g, err := OpenBlob(ctx, cfg.BucketURL, cfg.RunID, cfg.Rank, cfg.Size, BlobOptions{PollInterval: cfg.PollInterval})
		if err != nil {
			return nil, nil, err
		}
		return []Group{g}, g.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown group mode: %s", cfg.Mode)
	}
}
