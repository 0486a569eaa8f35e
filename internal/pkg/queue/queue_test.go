package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueue_RunsJobsAndDrains(t *testing.T) {
	q := NewQueue(discardLogger(), 3, 10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	var completed atomic.Int32
	for i := 0; i < 5; i++ {
		if !q.Enqueue(func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond)
			completed.Add(1)
			return nil
		}) {
			t.Fatalf("failed to enqueue job %d", i)
		}
	}

	if err := q.ShutdownWithTimeout(2 * time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if completed.Load() != 5 {
		t.Fatalf("expected 5 completed jobs, got %d", completed.Load())
	}
	if s := q.Stats(); s.Enqueued != 5 || s.Succeeded != 5 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestQueue_ResultCallback(t *testing.T) {
	var mu sync.Mutex
	results := map[Result]int{}
	q := NewQueue(discardLogger(), 1, 5, func(r Result) {
		mu.Lock()
		results[r]++
		mu.Unlock()
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	q.Enqueue(func(ctx context.Context) error { return nil })
	q.Enqueue(func(ctx context.Context) error { return errors.New("smtp down") })
	q.Enqueue(func(ctx context.Context) error { panic("boom") })

	var ran atomic.Bool
	q.Enqueue(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	if err := q.ShutdownWithTimeout(2 * time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !ran.Load() {
		t.Fatalf("worker should survive a panicking job")
	}

	mu.Lock()
	defer mu.Unlock()
	if results[ResultSucceeded] != 2 || results[ResultFailed] != 1 || results[ResultPanicked] != 1 {
		t.Fatalf("unexpected results: %v", results)
	}
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := NewQueue(discardLogger(), 1, 1, nil)

	// 未启动 worker，第二个任务必定被丢弃
	if !q.Enqueue(func(ctx context.Context) error { return nil }) {
		t.Fatalf("first enqueue should succeed")
	}
	if q.Enqueue(func(ctx context.Context) error { return nil }) {
		t.Fatalf("second enqueue should be dropped")
	}
	if q.Stats().Dropped != 1 || q.Len() != 1 {
		t.Fatalf("unexpected stats: %+v len=%d", q.Stats(), q.Len())
	}
}

func TestQueue_RejectsAfterShutdown(t *testing.T) {
	q := NewQueue(discardLogger(), 1, 1, nil)
	q.Start(context.Background())
	if err := q.ShutdownWithTimeout(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if q.Enqueue(func(ctx context.Context) error { return nil }) {
		t.Fatalf("closed queue must reject jobs")
	}
	if err := q.ShutdownWithTimeout(time.Second); err == nil {
		t.Fatalf("second shutdown should report already closed")
	}
}
