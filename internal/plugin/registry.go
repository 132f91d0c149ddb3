// Package plugin is the TaskChannel registry: it maps a task type string
// to the Channel that builds an AbstractTask for it, mirroring the
// orchestrator's MultiTaskExecutor dispatch-by-type shape, but built
// around one Channel-per-type registered ahead of time instead of a
// switch statement, so new task types don't require touching the core.
package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/swarmguard/worker/internal/task"
)

// ErrNotFound is returned by Registry.CreateTask when no Channel is
// registered under the requested task type.
type ErrNotFound struct {
	TaskType string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("plugin: no channel registered for task type %q", e.TaskType)
}

// Registry holds the process-wide task-type -> Channel mapping.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]task.Channel
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]task.Channel)}
}

// Register binds taskType to channel. Registering the same type twice
// overwrites the previous binding; used at startup, not under load.
func (r *Registry) Register(taskType string, channel task.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[taskType] = channel
}

// CreateTask builds an AbstractTask for ectx.TaskType, or ErrNotFound.
func (r *Registry) CreateTask(ctx context.Context, ectx *task.ExecutionContext) (task.AbstractTask, error) {
	r.mu.RLock()
	channel, ok := r.channels[ectx.TaskType]
	r.mu.RUnlock()
	if !ok {
		return nil, &ErrNotFound{TaskType: ectx.TaskType}
	}
	return channel.CreateTask(ctx, ectx)
}
