package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/swarmguard/worker/internal/task"
)

type fakeAbstractTask struct{}

func (fakeAbstractTask) Init(context.Context) error                         { return nil }
func (fakeAbstractTask) Handle(context.Context) error                       { return nil }
func (fakeAbstractTask) CancelApplication(context.Context, bool) error      { return nil }
func (fakeAbstractTask) ExitStatus() task.ExitStatus                        { return task.ExitStatus{} }
func (fakeAbstractTask) ProcessID() int                                     { return 0 }
func (fakeAbstractTask) AppIDs() string                                     { return "" }
func (fakeAbstractTask) Parameters() *task.Parameters                       { return &task.Parameters{} }
func (fakeAbstractTask) SetVarPool([]task.Property)                         {}
func (fakeAbstractTask) NeedAlert() bool                                    { return false }
func (fakeAbstractTask) AlertInfo() task.AlertInfo                          { return task.AlertInfo{} }

func TestRegistryCreatesRegisteredType(t *testing.T) {
	r := NewRegistry()
	r.Register("SHELL", task.ChannelFunc(func(context.Context, *task.ExecutionContext) (task.AbstractTask, error) {
		return fakeAbstractTask{}, nil
	}))

	got, err := r.CreateTask(context.Background(), &task.ExecutionContext{TaskType: "SHELL"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := got.(fakeAbstractTask); !ok {
		t.Fatalf("expected fakeAbstractTask, got %T", got)
	}
}

func TestRegistryUnknownTypeReturnsNotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.CreateTask(context.Background(), &task.ExecutionContext{TaskType: "NOPE"})

	var notFound *ErrNotFound
	if !errors.As(err, &notFound) || notFound.TaskType != "NOPE" {
		t.Fatalf("expected ErrNotFound for NOPE, got %v", err)
	}
}
