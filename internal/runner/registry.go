package runner

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry is the process-wide TaskExecutionContextCache: it tracks every
// Runner currently in flight so an out-of-band kill command (HTTP or
// NATS) can be routed to the right instance, and so completed runs are
// evicted exactly once. Modeled on the orchestrator's
// CancellationManager (map + RWMutex + per-event metrics + idempotent
// terminal transition).
type Registry struct {
	mu      sync.RWMutex
	runners map[int64]*Runner

	registrations metric.Int64Counter
	evictions     metric.Int64Counter
}

func NewRegistry() *Registry {
	meter := otel.Meter("swarm-worker")
	registrations, _ := meter.Int64Counter("swarm_worker_registry_registrations_total")
	evictions, _ := meter.Int64Counter("swarm_worker_registry_evictions_total")
	return &Registry{
		runners:       make(map[int64]*Runner),
		registrations: registrations,
		evictions:     evictions,
	}
}

// Register tracks r under taskInstanceID, called before the runner is
// enqueued so a kill arriving before Run starts still finds it.
func (reg *Registry) Register(ctx context.Context, taskInstanceID int64, r *Runner) {
	reg.mu.Lock()
	reg.runners[taskInstanceID] = r
	reg.mu.Unlock()
	reg.registrations.Add(ctx, 1, metric.WithAttributes(attribute.Int64("task_instance_id", taskInstanceID)))
}

// Evict removes taskInstanceID from the cache. Idempotent: evicting an
// already-absent entry is a no-op.
func (reg *Registry) Evict(ctx context.Context, taskInstanceID int64) {
	reg.mu.Lock()
	_, existed := reg.runners[taskInstanceID]
	delete(reg.runners, taskInstanceID)
	reg.mu.Unlock()
	if existed {
		reg.evictions.Add(ctx, 1, metric.WithAttributes(attribute.Int64("task_instance_id", taskInstanceID)))
	}
}

// Kill looks up taskInstanceID and forwards Kill to it, reporting whether
// a runner was found. A miss is not an error: the task may have already
// completed, which races harmlessly against the kill arriving late.
func (reg *Registry) Kill(ctx context.Context, taskInstanceID int64, force bool) bool {
	reg.mu.RLock()
	r, ok := reg.runners[taskInstanceID]
	reg.mu.RUnlock()
	if !ok {
		return false
	}
	r.Kill(ctx, force)
	return true
}

// Len reports the number of in-flight runners, for introspection.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.runners)
}
