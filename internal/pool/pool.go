// Package pool runs a fixed set of executor slots draining a DelayQueue,
// each slot running one TaskRunner to completion before taking the next,
// the same fixed-worker-goroutine shape the orchestrator's DAGEngine uses
// for its own concurrency cap.
package pool

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/worker/internal/delayqueue"
)

// Runner is anything the pool can hand an Element's payload to. The
// WorkerPool does not know about task.ExecutionContext or runner.Runner
// directly; RunnerFactory decouples it from internal/runner to keep this
// package import-light and independently testable.
type Runner interface {
	Run(ctx context.Context)
}

// RunnerFactory builds the Runner for a dequeued delayqueue.Element. It
// is expected to type-assert Element.Value to whatever concrete payload
// the caller enqueued.
type RunnerFactory func(ctx context.Context, e delayqueue.Element) Runner

// Pool drains a DelayQueue with a fixed number of goroutine slots. Each
// slot loops: Take a ready element, run it to completion, take the next.
// The pool is the only component that invokes a Runner's Run; a Runner
// itself must not be invoked concurrently from two slots, which this
// pool's one-runner-per-slot-at-a-time discipline guarantees.
type Pool struct {
	queue   *delayqueue.Queue
	factory RunnerFactory
	slots   int

	activeSlots metric.Int64UpDownCounter
}

// New builds a Pool with the given fixed slot count.
func New(queue *delayqueue.Queue, slots int, factory RunnerFactory) *Pool {
	meter := otel.Meter("swarm-worker")
	activeSlots, _ := meter.Int64UpDownCounter("swarm_worker_pool_active_slots")
	return &Pool{queue: queue, factory: factory, slots: slots, activeSlots: activeSlots}
}

// Run blocks until ctx is cancelled, running slots goroutines that each
// drain the queue in a loop. Run returns once every slot has observed
// cancellation and finished its current task, if any.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.slots; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			p.runSlot(ctx, slot)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) runSlot(ctx context.Context, slot int) {
	for {
		element, ok := p.queue.Take(ctx)
		if !ok {
			return
		}

		p.activeSlots.Add(ctx, 1)
		runner := p.factory(ctx, element)
		runner.Run(ctx)
		p.activeSlots.Add(ctx, -1)

		slog.Debug("pool slot completed task", "slot", slot, "task_instance_id", element.TaskInstanceID)
	}
}
