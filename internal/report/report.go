// Package report sends a task's lifecycle messages to the master and
// forwards alerts, both best-effort from the task's point of view: the
// master is expected to reconcile missed messages via its own timeout.
package report

import (
	"context"
	"log/slog"
	"time"

	"github.com/swarmguard/worker/internal/resilience"
	"github.com/swarmguard/worker/internal/task"
)

// MessageKind distinguishes the two lifecycle messages a TaskRunner emits.
type MessageKind string

const (
	MessageRunning MessageKind = "RUNNING"
	MessageResult  MessageKind = "RESULT"
)

// retryAttempts/retryInitialBackoff bound how hard Send tries before
// giving up and letting the master's own reconciliation loop take over.
const (
	retryAttempts       = 5
	retryInitialBackoff = 200 * time.Millisecond
)

// MasterClient delivers a task execution context snapshot to the master.
// The shipped implementation is transport/nats.Client.
type MasterClient interface {
	SendStatus(ctx context.Context, masterAddress string, kind MessageKind, snapshot task.ExecutionContext) error
}

// Sender delivers an alert. The shipped implementation is alert.Sender.
type Sender interface {
	Send(ctx context.Context, info task.AlertInfo, isFailure bool) error
}

// Reporter composes a MasterClient and an alert Sender. Status reports go
// through bounded retry; alerts are sent once, best-effort.
type Reporter struct {
	Master MasterClient
	Alerts Sender
}

func New(master MasterClient, alerts Sender) *Reporter {
	return &Reporter{Master: master, Alerts: alerts}
}

// Send transmits a snapshot of ctx to master with bounded exponential
// backoff. Exhaustion is logged, not returned as fatal: the caller's own
// terminal status is unaffected either way.
func (r *Reporter) Send(ctx context.Context, ectx *task.ExecutionContext, masterAddress string, kind MessageKind) {
	if r.Master == nil {
		slog.Warn("no master client configured, dropping status report", "task_app_id", ectx.TaskAppID(), "kind", kind)
		return
	}
	snapshot := ectx.Snapshot()
	_, err := resilience.Retry(ctx, retryAttempts, retryInitialBackoff, func() (struct{}, error) {
		return struct{}{}, r.Master.SendStatus(ctx, masterAddress, kind, snapshot)
	})
	if err != nil {
		slog.Warn("status report delivery exhausted retries",
			"task_app_id", snapshot.TaskAppID(), "kind", kind, "error", err)
	}
}

// Alert maps statusCode against task.StatusSuccess to a SUCCESS/FAILURE
// alert and forwards it best-effort; failures are logged, never returned.
func (r *Reporter) Alert(ctx context.Context, info task.AlertInfo, status task.Status) {
	if r.Alerts == nil {
		return
	}
	isFailure := status != task.StatusSuccess
	if err := r.Alerts.Send(ctx, info, isFailure); err != nil {
		slog.Warn("alert delivery failed", "alert_group_id", info.AlertGroupID, "error", err)
	}
}
