// Package httptask is the built-in HTTP AbstractTask: issues one request
// and records the response body as output var pool entries, adapted from
// the orchestrator's HTTPTaskExecutor (pooled client, traced request,
// trace-context propagation, bounded body read).
package httptask

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/worker/internal/task"
)

const (
	ParamURL    = "url"
	ParamMethod = "method"
	ParamBody   = "body"

	maxResponseBody = 10 << 20
)

var sharedClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

// Channel is the task.Channel for task type "HTTP".
var Channel = task.ChannelFunc(func(_ context.Context, ectx *task.ExecutionContext) (task.AbstractTask, error) {
	return New(ectx), nil
})

type Task struct {
	ectx   *task.ExecutionContext
	tracer trace.Tracer

	mu         sync.Mutex
	exitStatus task.ExitStatus
	varPool    []task.Property
}

func New(ectx *task.ExecutionContext) *Task {
	return &Task{ectx: ectx, tracer: otel.Tracer("swarm-worker-http-task")}
}

func (t *Task) Init(_ context.Context) error {
	if t.ectx.DefinedParams[ParamURL] == "" {
		return fmt.Errorf("httptask: missing %q in defined params", ParamURL)
	}
	return nil
}

func (t *Task) Handle(ctx context.Context) error {
	ctx, span := t.tracer.Start(ctx, "httptask.execute")
	defer span.End()

	url := t.ectx.DefinedParams[ParamURL]
	method := t.ectx.DefinedParams[ParamMethod]
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if b := t.ectx.DefinedParams[ParamBody]; b != "" {
		body = bytes.NewReader([]byte(b))
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("httptask: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Task-App-Id", t.ectx.TaskAppID())
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(req.Header))

	resp, err := sharedClient.Do(req)
	code := 1
	var respBody []byte
	if err == nil {
		defer resp.Body.Close()
		respBody, _ = io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		if resp.StatusCode < 400 {
			code = 0
		}
	}

	t.mu.Lock()
	t.exitStatus = task.ExitStatus{Code: code}
	t.varPool = []task.Property{{Prop: "httpResponse", Value: string(respBody)}}
	t.mu.Unlock()

	if err != nil {
		return fmt.Errorf("httptask: request failed: %w", err)
	}
	return nil
}

func (t *Task) CancelApplication(_ context.Context, _ bool) error { return nil }

func (t *Task) ExitStatus() task.ExitStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitStatus
}

func (t *Task) ProcessID() int { return 0 }

func (t *Task) AppIDs() string { return "" }

func (t *Task) Parameters() *task.Parameters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &task.Parameters{VarPool: t.varPool}
}

func (t *Task) SetVarPool(pool []task.Property) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.varPool = pool
}

func (t *Task) NeedAlert() bool { return false }

func (t *Task) AlertInfo() task.AlertInfo { return task.AlertInfo{} }

type headerCarrier http.Header

func (h headerCarrier) Get(key string) string { return http.Header(h).Get(key) }
func (h headerCarrier) Set(key, value string) { http.Header(h).Set(key, value) }
func (h headerCarrier) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}
