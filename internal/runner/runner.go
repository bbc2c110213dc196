// Package runner drives one rank through a run: it computes the rank's plan,
// solves every column of its window, and takes part in the final reduction.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/column-distributor/internal/checkpoint"
	"github.com/withObsrvr/column-distributor/internal/group"
	"github.com/withObsrvr/column-distributor/internal/jobs"
	"github.com/withObsrvr/column-distributor/internal/logging"
	"github.com/withObsrvr/column-distributor/internal/metrics"
	"github.com/withObsrvr/column-distributor/internal/provenance"
	"github.com/withObsrvr/column-distributor/internal/storage"
	"github.com/withObsrvr/column-distributor/internal/tables"
	"github.com/withObsrvr/column-distributor/internal/tracing"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// abortTimeout bounds the abort notification when the run context is gone.
const abortTimeout = 10 * time.Second

// Options are the global inputs of a run. They must be identical on every rank.
type Options struct {
	RunID  string
	Grid   jobs.Grid
	Region jobs.Region

	Store      storage.Store      // optional; rank 0 exports the task map and report
	Checkpoint checkpoint.Manager // optional
	Provenance provenance.Emitter // optional; rank 0 records the finished run
}

// Result summarises a finished rank.
type Result struct {
	Rank       int
	Size       int
	Start      int
	NTasks     int
	TotalTasks int
	Resumed    bool
	Local      jobs.Counters // this rank's counters before the reduction
	Totals     jobs.Counters // group totals after the reduction
}

// Runner executes one rank of a run.
type Runner struct {
	opts   Options
	group  group.Group
	solver Solver
	log    *slog.Logger

	taskMap     *storage.TableInfo
	fingerprint string
}

// New creates a runner for the member g of the process group.
func New(g group.Group, solver Solver, opts Options) *Runner {
	if opts.Checkpoint == nil {
		opts.Checkpoint, _ = checkpoint.NewManager(checkpoint.Config{Enabled: false})
	}
	return &Runner{
		opts:   opts,
		group:  g,
		solver: solver,
		log:    logging.RankLogger("runner", opts.RunID, g.Rank(), g.Size()),
	}
}

// Run executes the rank to completion. Any error that would leave peers
// blocked in the final reduction aborts the whole group first.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	startedAt := time.Now().UTC()

	plan, err := r.distribute(ctx)
	if err != nil {
		r.abort(ctx, err)
		return nil, err
	}

	r.fingerprint = plan.Fingerprint()
	res := &Result{
		Rank:       plan.Rank(),
		Size:       plan.Size(),
		Start:      plan.Start(),
		NTasks:     plan.NTasks(),
		TotalTasks: plan.TotalTasks(),
	}

	if plan.Rank() == 0 && r.opts.Store != nil {
		if err := r.exportTaskMap(ctx, plan); err != nil {
			r.log.Warn("task map export failed", "error", err)
		}
	}

	counters, next := r.resume(ctx, plan)
	res.Resumed = next > 0

	if err := r.work(ctx, plan, &counters, next); err != nil {
		r.abort(ctx, err)
		return nil, err
	}
	res.Local = counters

	if err := r.finish(ctx, plan, &counters); err != nil {
		r.abort(ctx, err)
		return nil, err
	}
	res.Totals = counters

	if plan.Rank() == 0 && r.opts.Store != nil {
		if err := r.writeReport(ctx, plan, res, startedAt); err != nil {
			return res, err
		}
	}
	if plan.Rank() == 0 && r.opts.Provenance != nil {
		if err := r.opts.Provenance.Emit(ctx, r.provenanceEvent(plan, res)); err != nil {
			r.log.Warn("provenance emit failed", "error", err)
		}
	}

	r.log.Info("rank finished",
		"processed", counters.Processed,
		"crashed", counters.Crashed,
		"converged", counters.Converged,
		"not_converged", counters.NotConverged,
	)
	return res, nil
}

func (r *Runner) distribute(ctx context.Context) (*jobs.Plan, error) {
	_, span := tracing.StartSpan(ctx, "distribute", map[string]int{"rank": r.group.Rank(), "size": r.group.Size()})
	start := time.Now()

	plan, err := jobs.Distribute(r.group, r.opts.Grid, r.opts.Region)
	tracing.EndSpan(span, err)

	if err != nil {
		if m := metrics.Get(); m != nil {
			reason := "invalid"
			if errors.Is(err, jobs.ErrTooManyProcesses) {
				reason = "too_many_processes"
			}
			m.IncDistributionFailures(r.group.Rank(), reason)
		}
		r.log.Error("distribution failed", "error", err)
		return nil, fmt.Errorf("distribute jobs: %w", err)
	}

	if m := metrics.Get(); m != nil {
		m.ObserveDistribution(plan.Rank(), time.Since(start).Seconds())
		m.SetTasksAssigned(plan.Rank(), plan.NTasks(), plan.TotalTasks())
	}

	region := plan.Region()
	r.log.Info("distributed",
		"x_range", fmt.Sprintf("%d:%d:%d", region.X0, region.X1, region.XStride),
		"y_range", fmt.Sprintf("%d:%d:%d", region.Y0, region.Y1, region.YStride),
		"total_tasks", plan.TotalTasks(),
		"start", plan.Start(),
		"ntasks", plan.NTasks(),
	)
	return plan, nil
}

// resume returns the counters and window position to continue from. Any
// checkpoint that does not belong to this exact plan is ignored. The
// background record count always restarts at zero.
func (r *Runner) resume(ctx context.Context, plan *jobs.Plan) (jobs.Counters, int) {
	cp, err := r.opts.Checkpoint.Load(ctx, r.opts.RunID, plan.Rank())
	if err != nil {
		if !errors.Is(err, checkpoint.ErrNoCheckpoint) {
			r.log.Warn("failed to load checkpoint, starting fresh", "error", err)
		}
		return jobs.Counters{}, 0
	}
	if !cp.Matches(r.opts.RunID, plan) {
		r.log.Info("checkpoint doesn't match plan, starting fresh")
		return jobs.Counters{}, 0
	}

	r.log.Info("resuming from checkpoint", "next_task", cp.NextTask)
	counters := cp.Counters
	counters.BackgroundRecords = 0
	return counters, cp.NextTask
}

func (r *Runner) work(ctx context.Context, plan *jobs.Plan, counters *jobs.Counters, next int) error {
	for k := next; k < plan.NTasks(); k++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		col, err := plan.Column(k)
		if err != nil {
			return err
		}

		status := r.solve(ctx, plan.Rank(), col)
		if err := ctx.Err(); err != nil {
			// The interrupted column is redone on resume.
			return err
		}

		counters.Processed++
		switch status {
		case StatusConverged:
			counters.Converged++
		case StatusNotConverged:
			counters.NotConverged++
		default:
			counters.Crashed++
		}

		if m := metrics.Get(); m != nil {
			m.SetWindowPosition(plan.Rank(), k+1)
		}

		if err := r.opts.Checkpoint.Save(ctx, &checkpoint.Checkpoint{
			RunID:       r.opts.RunID,
			Rank:        plan.Rank(),
			Size:        plan.Size(),
			Fingerprint: r.fingerprint,
			NextTask:    k + 1,
			Counters:    *counters,
			UpdatedAt:   time.Now().UTC(),
		}); err != nil {
			r.log.Warn("failed to save checkpoint", "error", err)
		}
	}
	return nil
}

func (r *Runner) solve(ctx context.Context, rank int, col jobs.Column) Status {
	spanCtx, span := tracing.StartSpan(ctx, "column", map[string]int{"index": col.Index, "x": col.X, "y": col.Y})
	start := time.Now()

	status, err := r.solver.Solve(spanCtx, col)
	if err != nil {
		status = StatusCrashed
		if ctx.Err() == nil {
			r.log.Warn("column crashed", "index", col.Index, "x", col.X, "y", col.Y, "error", err)
		}
	}
	tracing.EndSpan(span, err)

	if m := metrics.Get(); m != nil && ctx.Err() == nil {
		m.ObserveColumn(rank, status.String(), time.Since(start).Seconds())
	}
	r.log.Debug("column done", "index", col.Index, "x", col.X, "y", col.Y, "status", status.String())
	return status
}

func (r *Runner) finish(ctx context.Context, plan *jobs.Plan, counters *jobs.Counters) error {
	spanCtx, span := tracing.StartSpan(ctx, "finish", map[string]int{"rank": plan.Rank()})
	start := time.Now()

	err := jobs.Finish(spanCtx, r.group, plan, counters)
	tracing.EndSpan(span, err)
	if err != nil {
		return fmt.Errorf("finish jobs: %w", err)
	}

	if m := metrics.Get(); m != nil {
		m.ObserveCollectiveWait(plan.Rank(), time.Since(start).Seconds())
		m.SetGlobalTotals(counters.Processed, counters.Crashed, counters.Converged, counters.NotConverged)
	}
	return nil
}

func (r *Runner) exportTaskMap(ctx context.Context, plan *jobs.Plan) error {
	out, err := tables.EncodeTaskMap(plan)
	if err != nil {
		return err
	}

	check := tables.ValidateTaskMap(plan, out)
	for _, w := range check.Warnings {
		r.log.Warn("task map validation warning", "warning", w)
	}
	if err := check.Err(); err != nil {
		return err
	}

	ref := storage.RunRef{RunID: r.opts.RunID}
	if err := r.opts.Store.WriteTaskMap(ctx, ref, out.Parquet); err != nil {
		return err
	}

	key := ref.TaskMapPath(r.opts.Store.Prefix())
	r.taskMap = &storage.TableInfo{
		File:     r.opts.Store.URI(key),
		Checksum: out.Checksum,
		RowCount: out.RowCount,
		ByteSize: int64(len(out.Parquet)),
	}
	r.log.Info("task map exported", "uri", r.taskMap.File, "rows", out.RowCount)
	return nil
}

func (r *Runner) writeReport(ctx context.Context, plan *jobs.Plan, res *Result, startedAt time.Time) error {
	report := &storage.Report{
		RunID:      r.opts.RunID,
		Grid:       plan.Grid(),
		Region:     plan.Region(),
		Processes:  res.Size,
		TotalTasks: res.TotalTasks,
		Totals:     res.Totals,
		TaskMap:    r.taskMap,
		Producer: storage.ProducerInfo{
			Name:    "column-distributor",
			Version: Version,
			GitSHA:  GitSHA,
		},
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
	}
	if err := r.opts.Store.WriteReport(ctx, storage.RunRef{RunID: r.opts.RunID}, report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func (r *Runner) provenanceEvent(plan *jobs.Plan, res *Result) *provenance.Event {
	evt := &provenance.Event{
		Run: provenance.RunInfo{
			RunID:       r.opts.RunID,
			Fingerprint: r.fingerprint,
			Grid:        plan.Grid(),
			Region:      plan.Region(),
			Processes:   res.Size,
			TotalTasks:  res.TotalTasks,
		},
		Totals: res.Totals,
		Producer: provenance.ProducerInfo{
			Name:    "column-distributor",
			Version: Version,
			GitSHA:  GitSHA,
		},
	}
	if r.taskMap != nil {
		evt.Tables = map[string]provenance.TableInfo{
			tables.TaskMapTable: {
				Checksum:    r.taskMap.Checksum,
				RowCount:    r.taskMap.RowCount,
				StoragePath: r.taskMap.File,
				ByteSize:    r.taskMap.ByteSize,
			},
		}
	}
	return evt
}

func (r *Runner) abort(ctx context.Context, cause error) {
	if errors.Is(cause, group.ErrAborted) {
		// Someone else already aborted; nothing to announce.
		return
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()

	if err := r.group.Abort(actx, cause); err != nil {
		r.log.Error("failed to abort process group", "error", err, "cause", cause)
		return
	}
	r.log.Error("process group aborted", "cause", cause)
}
