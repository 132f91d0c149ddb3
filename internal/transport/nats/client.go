// Package nats is the shipped report.MasterClient, publishing task status
// snapshots to the master over NATS subjects and listening for kill
// commands, with the OpenTelemetry trace context propagated through
// message headers.
package nats

import (
	"context"
	"encoding/json"
	"fmt"

	natsgo "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/worker/internal/report"
	"github.com/swarmguard/worker/internal/task"
)

const (
	subjectRunning = "tasks.status.running"
	subjectResult  = "tasks.status.result"
	subjectKill    = "tasks.control.kill"
)

var propagator = propagation.TraceContext{}

// Client publishes status snapshots on NATS and subscribes for
// out-of-band kill commands from the master.
type Client struct {
	conn *natsgo.Conn
}

// Connect dials the given NATS URL.
func Connect(url string) (*Client, error) {
	conn, err := natsgo.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() {
	c.conn.Close()
}

func (c *Client) publish(ctx context.Context, subject string, data []byte) error {
	hdr := natsgo.Header{}
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	return c.conn.PublishMsg(&natsgo.Msg{Subject: subject, Data: data, Header: hdr})
}

// SendStatus implements report.MasterClient. masterAddress is accepted for
// interface symmetry with other transports but is otherwise unused:
// delivery is a pub/sub broadcast, not a directed RPC.
func (c *Client) SendStatus(ctx context.Context, _ string, kind report.MessageKind, snapshot task.ExecutionContext) error {
	subject := subjectResult
	if kind == report.MessageRunning {
		subject = subjectRunning
	}

	payload, err := json.Marshal(statusPayload{
		TaskInstanceID:    snapshot.TaskInstanceID,
		ProcessInstanceID: snapshot.ProcessInstanceID,
		TaskAppID:         snapshot.TaskAppID(),
		Status:            string(snapshot.CurrentExecutionStatus),
		StartTime:         snapshot.StartTime.UnixMilli(),
		EndTime:           snapshot.EndTime.UnixMilli(),
		ProcessID:         snapshot.ProcessID,
		AppIDs:            snapshot.AppIDs,
		VarPool:           snapshot.VarPool,
	})
	if err != nil {
		return fmt.Errorf("marshal status payload: %w", err)
	}

	return c.publish(ctx, subject, payload)
}

// SubscribeKill registers handler for every kill command the master
// broadcasts, extracting the originating trace context into a child span
// the same way every NATS consumer in this codebase does.
func (c *Client) SubscribeKill(handler func(ctx context.Context, taskInstanceID int64, force bool)) (*natsgo.Subscription, error) {
	return c.conn.Subscribe(subjectKill, func(m *natsgo.Msg) {
		ctx := propagator.Extract(context.Background(), propagation.HeaderCarrier(m.Header))
		tr := otel.Tracer("swarm-worker-nats")
		ctx, span := tr.Start(ctx, "nats.consume.kill", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()

		var cmd killCommand
		if err := json.Unmarshal(m.Data, &cmd); err != nil {
			span.RecordError(err)
			return
		}
		handler(ctx, cmd.TaskInstanceID, cmd.Force)
	})
}

type killCommand struct {
	TaskInstanceID int64 `json:"taskInstanceId"`
	Force          bool  `json:"force"`
}

type statusPayload struct {
	TaskInstanceID    int64           `json:"taskInstanceId"`
	ProcessInstanceID int64           `json:"processInstanceId"`
	TaskAppID         string          `json:"taskAppId"`
	Status            string          `json:"status"`
	StartTime         int64           `json:"startTime"`
	EndTime           int64           `json:"endTime"`
	ProcessID         int             `json:"processId"`
	AppIDs            string          `json:"appIds"`
	VarPool           []task.Property `json:"varPool"`
}
