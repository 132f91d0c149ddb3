package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/swarmguard/worker/internal/plugin"
	"github.com/swarmguard/worker/internal/report"
	"github.com/swarmguard/worker/internal/resource"
	"github.com/swarmguard/worker/internal/storage/memstore"
	"github.com/swarmguard/worker/internal/task"
)

type fakeMaster struct {
	running int32
	results int32
	lastStatus task.Status
}

func (f *fakeMaster) SendStatus(_ context.Context, _ string, kind report.MessageKind, snapshot task.ExecutionContext) error {
	if kind == report.MessageRunning {
		atomic.AddInt32(&f.running, 1)
	} else {
		atomic.AddInt32(&f.results, 1)
		f.lastStatus = snapshot.CurrentExecutionStatus
	}
	return nil
}

func newTestRunner(t *testing.T, master *fakeMaster, registry *plugin.Registry, resourceUploadEnabled bool) *Runner {
	t.Helper()
	stager := resource.New(memstore.New(), resourceUploadEnabled)
	reporter := report.New(master, nil)
	return New(Config{ResourceUploadEnabled: resourceUploadEnabled}, stager, registry, reporter, nil, nil, nil, "master:5678")
}

type fakeAbstractTask struct {
	exitCode int
	pid      int
	handleFn func(ctx context.Context) error
	varPool  []task.Property

	cancelCalls int32
}

func (f *fakeAbstractTask) Init(context.Context) error { return nil }

func (f *fakeAbstractTask) Handle(ctx context.Context) error {
	if f.handleFn != nil {
		return f.handleFn(ctx)
	}
	return nil
}

func (f *fakeAbstractTask) CancelApplication(context.Context, bool) error {
	atomic.AddInt32(&f.cancelCalls, 1)
	return nil
}

func (f *fakeAbstractTask) ExitStatus() task.ExitStatus { return task.ExitStatus{Code: f.exitCode} }
func (f *fakeAbstractTask) ProcessID() int               { return f.pid }
func (f *fakeAbstractTask) AppIDs() string                { return "" }
func (f *fakeAbstractTask) Parameters() *task.Parameters  { return &task.Parameters{VarPool: f.varPool} }
func (f *fakeAbstractTask) SetVarPool(pool []task.Property) { f.varPool = pool }
func (f *fakeAbstractTask) NeedAlert() bool               { return false }
func (f *fakeAbstractTask) AlertInfo() task.AlertInfo     { return task.AlertInfo{} }

func TestRunDryRunEmitsOnlyResultWithEqualTimes(t *testing.T) {
	master := &fakeMaster{}
	registry := plugin.NewRegistry()
	r := newTestRunner(t, master, registry, true)

	ectx := &task.ExecutionContext{TaskInstanceID: 42, DryRun: true, ExecutePath: t.TempDir()}
	r.Run(context.Background(), ectx)

	if master.running != 0 {
		t.Fatalf("expected no RUNNING message in dry run, got %d", master.running)
	}
	if master.results != 1 {
		t.Fatalf("expected exactly one RESULT message, got %d", master.results)
	}
	if master.lastStatus != task.StatusSuccess {
		t.Fatalf("expected SUCCESS, got %v", master.lastStatus)
	}
	if !ectx.StartTime.Equal(ectx.EndTime) {
		t.Fatalf("expected startTime == endTime, got %v != %v", ectx.StartTime, ectx.EndTime)
	}
}

func TestRunUnknownPluginFails(t *testing.T) {
	master := &fakeMaster{}
	registry := plugin.NewRegistry()
	r := newTestRunner(t, master, registry, true)

	ectx := &task.ExecutionContext{TaskInstanceID: 1, TaskType: "DOES_NOT_EXIST", ExecutePath: t.TempDir()}
	r.Run(context.Background(), ectx)

	if master.running != 1 {
		t.Fatalf("expected one RUNNING message, got %d", master.running)
	}
	if master.results != 1 || master.lastStatus != task.StatusFailure {
		t.Fatalf("expected one FAILURE RESULT, got results=%d status=%v", master.results, master.lastStatus)
	}
}

func TestRunResourceRequiredButStorageDisabledFails(t *testing.T) {
	master := &fakeMaster{}
	registry := plugin.NewRegistry()
	r := newTestRunner(t, master, registry, false)

	ectx := &task.ExecutionContext{
		TaskInstanceID: 1,
		TaskType:       "SHELL",
		ExecutePath:    t.TempDir(),
		Resources:      map[string]string{"a.sh": "tenantA"},
	}
	r.Run(context.Background(), ectx)

	if master.results != 1 || master.lastStatus != task.StatusFailure {
		t.Fatalf("expected FAILURE RESULT when storage disabled, got results=%d status=%v", master.results, master.lastStatus)
	}
}

func TestRunSuccessPathReportsRunningThenResult(t *testing.T) {
	master := &fakeMaster{}
	registry := plugin.NewRegistry()
	registry.Register("SHELL", task.ChannelFunc(func(_ context.Context, ectx *task.ExecutionContext) (task.AbstractTask, error) {
		return &fakeAbstractTask{exitCode: 0}, nil
	}))
	r := newTestRunner(t, master, registry, true)

	ectx := &task.ExecutionContext{TaskInstanceID: 1, TaskType: "SHELL", ExecutePath: t.TempDir()}
	r.Run(context.Background(), ectx)

	if master.running != 1 || master.results != 1 {
		t.Fatalf("expected RUNNING then RESULT, got running=%d results=%d", master.running, master.results)
	}
	if master.lastStatus != task.StatusSuccess {
		t.Fatalf("expected SUCCESS, got %v", master.lastStatus)
	}
	if !ectx.EndTime.After(ectx.StartTime) && !ectx.EndTime.Equal(ectx.StartTime) {
		t.Fatalf("expected endTime >= startTime")
	}
}

func TestKillDuringHandleCallsCancelApplicationExactlyOnce(t *testing.T) {
	master := &fakeMaster{}
	registry := plugin.NewRegistry()

	var abstractTask *fakeAbstractTask
	handleStarted := make(chan struct{})
	handleCanReturn := make(chan struct{})

	registry.Register("SHELL", task.ChannelFunc(func(_ context.Context, ectx *task.ExecutionContext) (task.AbstractTask, error) {
		abstractTask = &fakeAbstractTask{
			handleFn: func(ctx context.Context) error {
				close(handleStarted)
				<-handleCanReturn
				return errors.New("killed")
			},
		}
		return abstractTask, nil
	}))

	r := newTestRunner(t, master, registry, true)
	ectx := &task.ExecutionContext{TaskInstanceID: 1, TaskType: "SHELL", ExecutePath: t.TempDir()}

	runDone := make(chan struct{})
	go func() {
		r.Run(context.Background(), ectx)
		close(runDone)
	}()

	select {
	case <-handleStarted:
	case <-time.After(time.Second):
		t.Fatal("handle never started")
	}

	r.Kill(context.Background(), true)
	r.Kill(context.Background(), true) // idempotent
	close(handleCanReturn)

	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("run did not complete after kill")
	}

	if master.lastStatus != task.StatusFailure {
		t.Fatalf("expected FAILURE after kill, got %v", master.lastStatus)
	}
	if atomic.LoadInt32(&abstractTask.cancelCalls) != 1 {
		t.Fatalf("expected CancelApplication called exactly once, got %d", abstractTask.cancelCalls)
	}
}
