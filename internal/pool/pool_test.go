package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/swarmguard/worker/internal/delayqueue"
)

type fakeRunner struct {
	ran *int32
}

func (f fakeRunner) Run(context.Context) {
	atomic.AddInt32(f.ran, 1)
}

func TestPoolRunsEveryQueuedElementExactlyOnce(t *testing.T) {
	q := delayqueue.New()
	for i := int64(0); i < 5; i++ {
		q.Offer(delayqueue.Element{TaskInstanceID: i, FirstSubmit: time.Now()})
	}

	var ran int32
	var mu sync.Mutex
	seen := make(map[int64]bool)

	p := New(q, 3, func(_ context.Context, e delayqueue.Element) Runner {
		mu.Lock()
		seen[e.TaskInstanceID] = true
		mu.Unlock()
		return fakeRunner{ran: &ran}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	if atomic.LoadInt32(&ran) != 5 {
		t.Fatalf("expected 5 runs, got %d", ran)
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 distinct task instances seen, got %d", len(seen))
	}
}

func TestPoolStopsWhenContextCancelled(t *testing.T) {
	q := delayqueue.New()
	p := New(q, 2, func(_ context.Context, e delayqueue.Element) Runner {
		return fakeRunner{ran: new(int32)}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool did not return after context cancellation")
	}
}
