package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/withObsrvr/column-distributor/internal/checkpoint"
	"github.com/withObsrvr/column-distributor/internal/config"
	"github.com/withObsrvr/column-distributor/internal/group"
	"github.com/withObsrvr/column-distributor/internal/jobs"
	"github.com/withObsrvr/column-distributor/internal/logging"
	"github.com/withObsrvr/column-distributor/internal/metrics"
	"github.com/withObsrvr/column-distributor/internal/provenance"
	"github.com/withObsrvr/column-distributor/internal/runner"
	"github.com/withObsrvr/column-distributor/internal/storage"
	"github.com/withObsrvr/column-distributor/internal/tracing"
)

func main() {
	os.Exit(run())
}

// run executes the configured run and returns the process exit code. It
// returns instead of exiting so deferred flushes still happen.
func run() int {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("[main] Column Distributor %s (%s)", runner.Version, runner.GitSHA)

	cfg := config.MustLoad()
	logging.Setup(logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level})

	runID := cfg.Run.ID
	if runID == "" {
		runID = logging.GenerateRunID()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		log.Printf("[shutdown] received signal: %v", sig)
		cancel()
	}()

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init("column-distributor", runner.Version, cfg.Tracing.Output)
		if err != nil {
			log.Printf("[main] failed to init tracing: %v", err)
			return 1
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			if err := shutdown(sctx); err != nil {
				log.Printf("[main] tracing shutdown: %v", err)
			}
		}()
	}

	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Namespace)
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				log.Printf("[metrics] server stopped: %v", err)
			}
		}()
		log.Printf("[main] metrics listening on %s", cfg.Metrics.Address)
	}

	// Create storage backend (optional)
	var store storage.Store
	if cfg.Storage.Backend != "" {
		var err error
		store, err = storage.NewStore(ctx, storage.StorageConfig{
			Backend:         cfg.Storage.Backend,
			LocalDir:        cfg.Storage.LocalDir,
			Bucket:          cfg.Storage.Bucket,
			S3Endpoint:      cfg.Storage.S3Endpoint,
			S3Region:        cfg.Storage.S3Region,
			Prefix:          cfg.Storage.Prefix,
			CompressReports: cfg.Storage.CompressReports,
		})
		if err != nil {
			log.Printf("[main] failed to create storage: %v", err)
			return 1
		}
		defer store.Close()
	}

	ckpt, err := checkpoint.NewManager(checkpoint.Config{
		Enabled: cfg.Checkpoint.Enabled,
		Dir:     cfg.Checkpoint.Dir,
	})
	if err != nil {
		log.Printf("[main] failed to create checkpoint manager: %v", err)
		return 1
	}

	emitter, err := provenance.NewEmitter(provenance.Config{
		Enabled:  cfg.Provenance.Enabled,
		Endpoint: cfg.Provenance.Endpoint,
		Dir:      cfg.Provenance.Dir,
	})
	if err != nil {
		log.Printf("[main] failed to create provenance emitter: %v", err)
		return 1
	}
	defer emitter.Close()

	groups, closeGroup, err := group.Open(ctx, group.Config{
		Mode:         cfg.Group.Mode,
		Size:         cfg.Group.Size,
		Rank:         cfg.Group.Rank,
		BucketURL:    cfg.Group.BucketURL,
		PollInterval: cfg.Group.PollInterval,
		RunID:        runID,
	})
	if err != nil {
		log.Printf("[main] failed to open process group: %v", err)
		return 1
	}
	defer closeGroup()

	opts := runner.Options{
		RunID: runID,
		Grid:  jobs.Grid{NX: cfg.Grid.NX, NY: cfg.Grid.NY},
		Region: jobs.Region{
			X0: cfg.Region.X0, X1: cfg.Region.X1, XStride: cfg.Region.XStride,
			Y0: cfg.Region.Y0, Y1: cfg.Region.Y1, YStride: cfg.Region.YStride,
		},
		Store:      store,
		Checkpoint: ckpt,
		Provenance: emitter,
	}

	newSolver := func(int) runner.Solver {
		if cfg.Solver.DryRun {
			return runner.DryRunSolver
		}
		return &runner.ExecSolver{
			Command:          cfg.Solver.Command,
			NotConvergedExit: cfg.Solver.NotConvergedExit,
			Stdout:           os.Stdout,
			Stderr:           os.Stderr,
		}
	}

	slog.Info("starting run", "run_id", runID, "mode", cfg.Group.Mode, "members", len(groups))

	results, err := runner.RunAll(ctx, groups, newSolver, opts)
	if err != nil {
		if ctx.Err() != nil {
			log.Printf("[main] shutdown complete")
			return 130
		}
		log.Printf("[main] run failed: %v", err)
		return 1
	}

	totals := results[0].Totals
	slog.Info("run complete",
		"run_id", runID,
		"processed", totals.Processed,
		"crashed", totals.Crashed,
		"converged", totals.Converged,
		"not_converged", totals.NotConverged,
	)
	return 0
}
