// Package alert posts task alerts to an external alert service over HTTP,
// shaped after the orchestrator's HTTPTaskExecutor: a pooled client,
// traced request, trace-context propagation, and a bounded response read.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/worker/internal/task"
)

const maxResponseBody = 1 << 20 // 1MB

// Sender POSTs a task's alert info to an alert service endpoint.
type Sender struct {
	url    string
	client *http.Client
	tracer trace.Tracer
}

// New builds a Sender targeting url. A nil client gets the same pooled
// defaults the orchestrator's HTTP executor uses.
func New(url string, client *http.Client) *Sender {
	if client == nil {
		client = &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Sender{url: url, client: client, tracer: otel.Tracer("swarm-worker-alert")}
}

type alertPayload struct {
	AlertGroupID int    `json:"alertGroupId"`
	Title        string `json:"title"`
	Content      string `json:"content"`
	Level        string `json:"level"`
}

// Send implements report.Sender.
func (s *Sender) Send(ctx context.Context, info task.AlertInfo, isFailure bool) error {
	ctx, span := s.tracer.Start(ctx, "alert.send", trace.WithAttributes(
		attribute.Int("alert.group_id", info.AlertGroupID),
	))
	defer span.End()

	level := "SUCCESS"
	if isFailure {
		level = "FAILURE"
	}

	body, err := json.Marshal(alertPayload{
		AlertGroupID: info.AlertGroupID,
		Title:        info.Title,
		Content:      info.Content,
		Level:        level,
	})
	if err != nil {
		return fmt.Errorf("alert: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/v1/alerts", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alert: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(req.Header))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("alert: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("alert: service returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

type headerCarrier http.Header

func (h headerCarrier) Get(key string) string   { return http.Header(h).Get(key) }
func (h headerCarrier) Set(key, value string)   { http.Header(h).Set(key, value) }
func (h headerCarrier) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}

