// Package runner implements the TaskRunner state machine: the per-task
// lifecycle that composes resource staging, parameter binding, a plugin
// instance, status reporting and work directory cleanup into one
// deterministic run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/worker/internal/history"
	"github.com/swarmguard/worker/internal/logging"
	"github.com/swarmguard/worker/internal/params"
	"github.com/swarmguard/worker/internal/plugin"
	"github.com/swarmguard/worker/internal/report"
	"github.com/swarmguard/worker/internal/resource"
	"github.com/swarmguard/worker/internal/task"
	"github.com/swarmguard/worker/internal/workdir"
)

// ErrPluginNotFound marks a failure to create the plugin task for a run
// (including plugin.ErrNotFound for an unregistered task type). Run returns
// no error, so it only reaches the FAILING path's log line.
var ErrPluginNotFound = errors.New("runner: plugin not found")

// YARNKiller issues an out-of-band kill for external application ids
// (e.g. YARN) that a task may have launched. It is a collaborator, not
// owned by the core: most task types never populate AppIDs and this is
// never called.
type YARNKiller interface {
	Kill(ctx context.Context, appIDs string) error
}

// Runner drives one ExecutionContext through its full state machine. It is
// not safe for concurrent Run calls on the same instance; the WorkerPool
// guarantees only one slot ever owns a given Runner at a time. Kill is the
// sole exception: it may be called concurrently with Run from any
// goroutine.
type Runner struct {
	Config     Config
	Stager     *resource.Stager
	Plugins    *plugin.Registry
	Reporter   *report.Reporter
	History    *history.Store
	Registry   *Registry
	YARN       YARNKiller
	MasterAddr string

	mu       sync.Mutex
	abstract task.AbstractTask
	logger   *slog.Logger
	killed   atomic.Bool
	killOnce sync.Once
}

// taskLogger returns the logger tagged for the task currently owning this
// Runner, or the package default once no task owns it (before Run installs
// one, or after it has detached it on exit).
func (r *Runner) taskLogger() *slog.Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.logger != nil {
		return r.logger
	}
	return slog.Default()
}

// Config carries the process-wide settings a run needs that aren't part
// of the task's own ExecutionContext.
type Config struct {
	ResourceUploadEnabled bool
	DevelopMode           bool
	SystemEnvPath         string
}

// New builds a Runner for one ExecutionContext's lifetime. A fresh Runner
// must be constructed per task; it is not reusable across runs.
func New(cfg Config, stager *resource.Stager, plugins *plugin.Registry, reporter *report.Reporter, hist *history.Store, reg *Registry, yarn YARNKiller, masterAddr string) *Runner {
	return &Runner{
		Config:     cfg,
		Stager:     stager,
		Plugins:    plugins,
		Reporter:   reporter,
		History:    hist,
		Registry:   reg,
		YARN:       yarn,
		MasterAddr: masterAddr,
	}
}

// Run executes ctx's full lifecycle to completion: NEW -> DRY_RUN_DONE, or
// NEW -> STAGING -> RUNNING -> REPORTING -> CLEANED, with any fault routed
// through FAILING -> REPORTING -> CLEANED. A non-dry run returns once the
// terminal RESULT has been sent and the work directory cleared; a dry run
// returns after its RESULT and leaves the work directory as it is. Run
// itself never returns an error — the task's own status carries the outcome.
func (r *Runner) Run(ctx context.Context, ectx *task.ExecutionContext) {
	tracer := otel.Tracer("swarm-worker-runner")
	ctx, span := tracer.Start(ctx, "runner.run", trace.WithAttributes(
		attribute.String("task_app_id", ectx.TaskAppID()),
		attribute.String("task_type", ectx.TaskType),
	))
	defer span.End()

	ectx.TaskLogName = ectx.ComputeTaskLogName()
	r.mu.Lock()
	r.logger = logging.ForTask(nil, ectx.TaskLogName)
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.logger = nil
		r.mu.Unlock()
	}()

	r.taskLogger().Info("task run starting", "task_app_id", ectx.TaskAppID(), "task_type", ectx.TaskType, "dry_run", ectx.DryRun)

	if ectx.DryRun {
		r.runDryRun(ctx, ectx)
		if r.Registry != nil {
			r.Registry.Evict(ctx, ectx.TaskInstanceID)
		}
		return
	}

	err := r.runStagingThroughReporting(ctx, ectx)
	if err != nil {
		span.RecordError(err)
		r.fail(ctx, ectx, err)
	}

	if r.Registry != nil {
		r.Registry.Evict(ctx, ectx.TaskInstanceID)
	}
	r.Reporter.Send(ctx, ectx, r.MasterAddr, report.MessageResult)
	if r.History != nil {
		r.History.PutTerminal(task.NewTerminalRecord(ectx))
	}
	workdir.Clear(ectx.ExecutePath, r.Config.DevelopMode)
}

// runDryRun implements NEW -> DRY_RUN_DONE: no staging, no plugin
// invocation, a single RESULT with startTime == endTime.
func (r *Runner) runDryRun(ctx context.Context, ectx *task.ExecutionContext) {
	now := time.Now()
	ectx.EnsureStartTime(now)
	ectx.SetEndTime(now)
	ectx.SetTerminalStatus(task.StatusSuccess)
	r.Reporter.Send(ctx, ectx, r.MasterAddr, report.MessageResult)
	if r.History != nil {
		r.History.PutTerminal(task.NewTerminalRecord(ectx))
	}
}

// runStagingThroughReporting implements STAGING -> RUNNING -> REPORTING.
// Any error is the signal for the caller to transition through FAILING. A
// panic raised below it (e.g. by a plugin) is recovered and returned as an
// error.
func (r *Runner) runStagingThroughReporting(ctx context.Context, ectx *task.ExecutionContext) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("runner: panic during run: %v", p)
		}
	}()

	ectx.EnsureStartTime(time.Now())
	r.Reporter.Send(ctx, ectx, r.MasterAddr, report.MessageRunning)

	ectx.EnvFile = r.Config.SystemEnvPath
	if err := r.stage(ctx, ectx); err != nil {
		return err
	}

	globalParams, err := params.BuildGlobalParamsMap(ectx.GlobalParamsJSON)
	if err != nil {
		return fmt.Errorf("runner: bind global params: %w", err)
	}
	if ectx.DefinedParams == nil {
		ectx.DefinedParams = make(map[string]string, len(globalParams))
	}
	for k, v := range globalParams {
		if _, exists := ectx.DefinedParams[k]; !exists {
			ectx.DefinedParams[k] = v
		}
	}

	businessParams := params.PreBuildBusinessParams(ectx.ScheduleTime, ectx.HasSchedule)
	if ectx.ParamsMap == nil {
		ectx.ParamsMap = make(map[string]task.Property, len(businessParams))
	}
	for k, v := range businessParams {
		ectx.ParamsMap[k] = v
	}

	abstractTask, err := r.Plugins.CreateTask(ctx, ectx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPluginNotFound, err)
	}

	r.mu.Lock()
	r.abstract = abstractTask
	r.mu.Unlock()

	if r.killed.Load() {
		return errors.New("runner: killed before handle started")
	}

	if err := abstractTask.Init(ctx); err != nil {
		return fmt.Errorf("runner: plugin init failed: %w", err)
	}

	abstractTask.SetVarPool(ectx.VarPool)

	r.taskLogger().Info("plugin handling task", "task_app_id", ectx.TaskAppID(), "task_type", ectx.TaskType)
	if err := abstractTask.Handle(ctx); err != nil {
		return fmt.Errorf("runner: plugin handle failed: %w", err)
	}

	r.report(ctx, ectx, abstractTask)
	return nil
}

func (r *Runner) stage(ctx context.Context, ectx *task.ExecutionContext) error {
	downloads, err := r.Stager.PlanDownloads(ectx.ExecutePath, ectx.Resources)
	if err != nil {
		return fmt.Errorf("runner: plan downloads: %w", err)
	}
	if len(downloads) == 0 {
		return nil
	}
	if err := r.Stager.Download(ctx, ectx.ExecutePath, downloads); err != nil {
		return fmt.Errorf("runner: download resources: %w", err)
	}
	return nil
}

// report implements RUNNING -> REPORTING: alert if requested, copy the
// plugin's outcome back onto ectx, stamp endTime.
func (r *Runner) report(ctx context.Context, ectx *task.ExecutionContext, abstractTask task.AbstractTask) {
	exit := abstractTask.ExitStatus()
	status := task.StatusSuccess
	if exit.Code != 0 {
		status = task.StatusFailure
	}

	if abstractTask.NeedAlert() {
		r.Reporter.Alert(ctx, abstractTask.AlertInfo(), status)
	}

	ectx.SetTerminalStatus(status)
	ectx.ProcessID = abstractTask.ProcessID()
	ectx.AppIDs = abstractTask.AppIDs()
	if p := abstractTask.Parameters(); p != nil {
		ectx.VarPool = p.VarPool
	}
	ectx.SetEndTime(time.Now())

	r.taskLogger().Info("task run reported", "task_app_id", ectx.TaskAppID(), "status", status)
}

// fail implements FAILING: best-effort kill, FAILURE status, endTime,
// best-effort capture of processId/appIds from a partial task instance.
func (r *Runner) fail(ctx context.Context, ectx *task.ExecutionContext, cause error) {
	r.taskLogger().Warn("task run failed", "task_app_id", ectx.TaskAppID(), "error", cause)

	r.Kill(ctx, true)

	r.mu.Lock()
	abstractTask := r.abstract
	r.mu.Unlock()
	if abstractTask != nil {
		ectx.ProcessID = abstractTask.ProcessID()
		ectx.AppIDs = abstractTask.AppIDs()
	}

	ectx.SetTerminalStatus(task.StatusFailure)
	ectx.SetEndTime(time.Now())
}

// Bound pairs a Runner with the ExecutionContext it drives, satisfying
// pool.Runner's Run(ctx) signature without this package needing to import
// internal/pool.
type Bound struct {
	R    *Runner
	Ectx *task.ExecutionContext
}

func (b Bound) Run(ctx context.Context) {
	b.R.Run(ctx, b.Ectx)
}

// Kill cancels the running plugin instance, passing force through to
// CancelApplication (the FAILING path passes true), and, for any
// recorded external app ids, issues an out-of-band kill via
// the YARN collaborator. It is idempotent and never returns an error to
// the caller — every failure is logged and swallowed, since kill is
// best-effort by contract. Safe to call concurrently with Run from any
// goroutine, including multiple times.
func (r *Runner) Kill(ctx context.Context, force bool) {
	r.killed.Store(true)
	r.killOnce.Do(func() {
		r.mu.Lock()
		abstractTask := r.abstract
		r.mu.Unlock()

		if abstractTask != nil {
			if err := abstractTask.CancelApplication(ctx, force); err != nil {
				r.taskLogger().Warn("cancelApplication failed", "error", err)
			}
			if r.YARN != nil {
				if appIDs := abstractTask.AppIDs(); appIDs != "" {
					if err := r.YARN.Kill(ctx, appIDs); err != nil {
						r.taskLogger().Warn("yarn kill failed", "app_ids", appIDs, "error", err)
					}
				}
			}
		}
	})
}
