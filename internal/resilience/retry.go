// Package resilience provides the bounded-retry and circuit-breaking
// building blocks the worker uses around its network-facing collaborators
// (Retry for status reporting, CircuitBreaker for S3 resource downloads).
package resilience

import (
	"context"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
)

// Retry executes fn with exponential backoff (base delay) plus full jitter.
// delay is the initial backoff; it doubles each attempt until attempts is
// exhausted or the backoff hits a 60s cap. ctx cancellation aborts the wait
// between attempts immediately.
func Retry[T any](ctx context.Context, attempts int, delay time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	if attempts <= 0 {
		return zero, nil
	}

	meter := otel.Meter("swarm-worker")
	attemptCounter, _ := meter.Int64Counter("swarm_worker_retry_attempts_total")
	successCounter, _ := meter.Int64Counter("swarm_worker_retry_success_total")
	failCounter, _ := meter.Int64Counter("swarm_worker_retry_fail_total")

	cur := delay
	var lastErr error
	for i := 0; i < attempts; i++ {
		v, err := fn()
		attemptCounter.Add(ctx, 1)
		if err == nil {
			successCounter.Add(ctx, 1)
			return v, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}

		if cur > 60*time.Second {
			cur = 60 * time.Second
		}
		sleep := time.Duration(rand.Int63n(int64(cur) + 1))
		select {
		case <-ctx.Done():
			failCounter.Add(ctx, 1)
			return zero, ctx.Err()
		case <-time.After(sleep):
		}
		cur *= 2
	}

	failCounter.Add(ctx, 1)
	return zero, lastErr
}
