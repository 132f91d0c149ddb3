// Command worker is the worker process entrypoint: it wires the DelayQueue,
// the fixed-slot WorkerPool, the plugin registry, resource staging, status
// reporting and the HTTP submission surface into one running service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/worker/internal/alert"
	"github.com/swarmguard/worker/internal/config"
	"github.com/swarmguard/worker/internal/delayqueue"
	"github.com/swarmguard/worker/internal/history"
	"github.com/swarmguard/worker/internal/logging"
	"github.com/swarmguard/worker/internal/otelinit"
	"github.com/swarmguard/worker/internal/plugin"
	"github.com/swarmguard/worker/internal/plugin/httptask"
	"github.com/swarmguard/worker/internal/plugin/shell"
	"github.com/swarmguard/worker/internal/pool"
	"github.com/swarmguard/worker/internal/report"
	"github.com/swarmguard/worker/internal/resource"
	"github.com/swarmguard/worker/internal/runner"
	"github.com/swarmguard/worker/internal/storage"
	"github.com/swarmguard/worker/internal/storage/memstore"
	"github.com/swarmguard/worker/internal/storage/s3store"
	natstransport "github.com/swarmguard/worker/internal/transport/nats"
	"github.com/swarmguard/worker/internal/task"
)

func main() {
	service := "worker"
	cfg := config.FromEnv()
	logging.Init(service)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, service)
	shutdownMetrics, _ := otelinit.InitMetrics(ctx, service)

	natsClient, err := natstransport.Connect(cfg.NATSURL)
	if err != nil {
		slog.Error("nats connect failed, status reporting and kill delivery are unavailable", "error", err)
	} else {
		defer natsClient.Close()
	}

	store := buildStore(cfg)
	stager := resource.New(store, cfg.ResourceUploadEnabled)

	plugins := plugin.NewRegistry()
	plugins.Register("SHELL", shell.Channel)
	plugins.Register("HTTP", httptask.Channel)

	alertSender := alert.New(cfg.AlertURL, nil)
	var master report.MasterClient
	if natsClient != nil {
		master = natsClient
	}
	reporter := report.New(master, alertSender)

	hist, err := history.Open(cfg.HistoryDBPath)
	if err != nil {
		slog.Warn("history store unavailable, terminal records will not be enriched", "error", err)
		hist = nil
	} else {
		defer hist.Close()
	}

	registry := runner.NewRegistry()
	queue := delayqueue.New()

	runnerCfg := runner.Config{
		ResourceUploadEnabled: cfg.ResourceUploadEnabled,
		DevelopMode:           cfg.DevelopMode,
		SystemEnvPath:         cfg.SystemEnvPath,
	}

	workerPool := pool.New(queue, cfg.Slots, func(ctx context.Context, e delayqueue.Element) pool.Runner {
		bound, ok := e.Value.(pool.Runner)
		if !ok {
			slog.Error("queued element carried no runnable payload", "task_instance_id", e.TaskInstanceID)
			return noopRunner{}
		}
		return bound
	})

	if natsClient != nil {
		sub, err := natsClient.SubscribeKill(func(ctx context.Context, taskInstanceID int64, force bool) {
			if !registry.Kill(ctx, taskInstanceID, force) {
				slog.Debug("kill command for unknown or already-finished task", "task_instance_id", taskInstanceID)
			}
		})
		if err != nil {
			slog.Warn("subscribe to kill subject failed", "error", err)
		} else {
			defer sub.Unsubscribe()
		}
	}

	poolDone := make(chan struct{})
	go func() {
		workerPool.Run(ctx)
		close(poolDone)
	}()

	maintenance := cron.New(cron.WithSeconds())
	maintenance.AddFunc("0 */5 * * * *", func() {
		slog.Debug("maintenance tick", "queued", queue.Size(), "in_flight", registry.Len())
		if hist == nil {
			return
		}
		removed, err := hist.PruneOlderThan(time.Now().Add(-cfg.HistoryRetention))
		if err != nil {
			slog.Warn("history prune failed", "error", err)
			return
		}
		if removed > 0 {
			slog.Info("pruned stale history records", "removed", removed)
		}
	})
	maintenance.Start()
	defer func() {
		stopCtx := maintenance.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(3 * time.Second):
		}
	}()

	submitCounter := newSubmitCounter()

	server := &http.Server{
		Addr: ":8090",
		Handler: newMux(submitHandlerDeps{
			queue:      queue,
			registry:   registry,
			plugins:    plugins,
			stager:     stager,
			reporter:   reporter,
			history:    hist,
			runnerCfg:  runnerCfg,
			masterAddr: cfg.MasterAddress,
			counter:    submitCounter,
		}),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	slog.Info("worker started", "slots", cfg.Slots, "resource_upload_enabled", cfg.ResourceUploadEnabled)
	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	select {
	case <-poolDone:
	case <-time.After(10 * time.Second):
		slog.Warn("worker pool did not drain before shutdown timeout")
	}

	otelinit.Flush(shutdownCtx, shutdownTrace)
	_ = shutdownMetrics(shutdownCtx)
	slog.Info("shutdown complete")
}

// buildStore picks the production S3 adapter when resource uploads are
// enabled and credentials resolve, falling back to an in-memory store
// that only ever serves resources already present on disk.
func buildStore(cfg config.Worker) storage.Operate {
	if !cfg.ResourceUploadEnabled {
		return memstore.New()
	}
	s3, err := s3store.New(cfg.S3Bucket, cfg.S3Region)
	if err != nil {
		slog.Warn("s3 store unavailable, falling back to in-memory store", "error", err)
		return memstore.New()
	}
	return s3
}

type noopRunner struct{}

func (noopRunner) Run(context.Context) {}

func newSubmitCounter() metric.Int64Counter {
	meter := otel.Meter("swarm-worker")
	c, _ := meter.Int64Counter("swarm_worker_submissions_total")
	return c
}

type submitHandlerDeps struct {
	queue      *delayqueue.Queue
	registry   *runner.Registry
	plugins    *plugin.Registry
	stager     *resource.Stager
	reporter   *report.Reporter
	history    *history.Store
	runnerCfg  runner.Config
	masterAddr string
	counter    metric.Int64Counter
}

// submitRequest is the wire shape the master (or an operator, for manual
// testing) posts to enqueue a task.
type submitRequest struct {
	TaskInstanceID       int64             `json:"taskInstanceId"`
	ProcessInstanceID    int64             `json:"processInstanceId"`
	ProcessDefineCode    int64             `json:"processDefineCode"`
	ProcessDefineVersion int               `json:"processDefineVersion"`
	FirstSubmitTime      int64             `json:"firstSubmitTime"`
	ScheduleTime         int64             `json:"scheduleTime"`
	DelayMinutes         int               `json:"delayMinutes"`
	TaskType             string            `json:"taskType"`
	ExecutePath          string            `json:"executePath"`
	DryRun               bool              `json:"dryRun"`
	GlobalParamsJSON     string            `json:"globalParams"`
	DefinedParams        map[string]string `json:"definedParams"`
	Resources            map[string]string `json:"resources"`
}

func newMux(deps submitHandlerDeps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.TaskInstanceID == 0 {
			req.TaskInstanceID = int64(uuid.New().ID())
		}
		if req.ExecutePath == "" {
			http.Error(w, "executePath required", http.StatusBadRequest)
			return
		}

		ectx := &task.ExecutionContext{
			TaskInstanceID:       req.TaskInstanceID,
			ProcessInstanceID:    req.ProcessInstanceID,
			ProcessDefineCode:    req.ProcessDefineCode,
			ProcessDefineVersion: req.ProcessDefineVersion,
			FirstSubmitTime:      timeFromUnix(req.FirstSubmitTime),
			ScheduleTime:         timeFromUnix(req.ScheduleTime),
			HasSchedule:          req.ScheduleTime != 0,
			DelayMinutes:         req.DelayMinutes,
			TaskType:             req.TaskType,
			ExecutePath:          req.ExecutePath,
			DryRun:               req.DryRun,
			GlobalParamsJSON:     req.GlobalParamsJSON,
			DefinedParams:        req.DefinedParams,
			Resources:            req.Resources,
		}

		taskRunner := runner.New(deps.runnerCfg, deps.stager, deps.plugins, deps.reporter, deps.history, deps.registry, nil, deps.masterAddr)
		deps.registry.Register(r.Context(), ectx.TaskInstanceID, taskRunner)
		deps.queue.Offer(delayqueue.Element{
			TaskInstanceID: ectx.TaskInstanceID,
			FirstSubmit:    ectx.FirstSubmitTime,
			DelayMinutes:   ectx.DelayMinutes,
			Value:          runner.Bound{R: taskRunner, Ectx: ectx},
		})

		if deps.counter != nil {
			deps.counter.Add(r.Context(), 1, metric.WithAttributes(attribute.String("task_type", req.TaskType)))
		}

		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]int64{"taskInstanceId": ectx.TaskInstanceID})
	})

	mux.HandleFunc("/v1/tasks/kill", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			TaskInstanceID int64 `json:"taskInstanceId"`
			Force          bool  `json:"force"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if !deps.registry.Kill(r.Context(), req.TaskInstanceID, req.Force) {
			http.Error(w, fmt.Sprintf("no in-flight task %d", req.TaskInstanceID), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("/v1/tasks/recent", func(w http.ResponseWriter, r *http.Request) {
		if deps.history == nil {
			http.Error(w, "history store not configured", http.StatusServiceUnavailable)
			return
		}
		records, err := deps.history.ListRecent(50)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(records)
	})

	return mux
}

func timeFromUnix(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
