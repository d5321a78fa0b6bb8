package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T, maxRetries int) (*RedisCleanupQueue, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q, err := NewRedisCleanupQueueWithClient(client, RedisConfig{
		Stream:     "test:cleanup",
		Group:      "test-group",
		Consumer:   "worker",
		MaxRetries: maxRetries,
		Block:      10 * time.Millisecond,
		RetryDelay: -1,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q, client
}

func TestCleanupQueueDeliversTask(t *testing.T) {
	q, client := newTestQueue(t, 3)
	ctx := context.Background()
	task, err := q.Enqueue(ctx, "book-1", "covers/book-1.png")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var got []CleanupTask
	n, err := q.Process(ctx, "worker-0", func(_ context.Context, tk CleanupTask) error {
		got = append(got, tk)
		return nil
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 1 || len(got) != 1 {
		t.Fatalf("expected one handled task, got %d", n)
	}
	if got[0].ID != task.ID || got[0].ObjectKey != "covers/book-1.png" || got[0].Attempt != 1 {
		t.Fatalf("unexpected task: %+v", got[0])
	}
	streamLen, err := client.XLen(ctx, "test:cleanup").Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 0 {
		t.Fatalf("expected acked task removed from stream, got len=%d", streamLen)
	}
}

func TestCleanupQueueRetriesThenDeadLetters(t *testing.T) {
	q, _ := newTestQueue(t, 2)
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, "book-1", "covers/broken.png"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	failing := func(context.Context, CleanupTask) error { return errors.New("bucket offline") }

	for round := 0; round < 2; round++ {
		if _, err := q.Process(ctx, "worker-0", failing); err != nil {
			t.Fatalf("process round %d: %v", round, err)
		}
	}
	dead, err := q.DeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(dead) != 1 || dead[0].Attempt != 2 || dead[0].LastError != "bucket offline" {
		t.Fatalf("expected one dead-lettered task after 2 attempts, got %+v", dead)
	}
	n, err := q.Process(ctx, "worker-0", failing)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing left to process, got %d", n)
	}
}

func TestCleanupQueueStartRunsConsumers(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := map[string]bool{}
	done := make(chan struct{})
	q.Start(ctx, 2, func(_ context.Context, tk CleanupTask) error {
		mu.Lock()
		defer mu.Unlock()
		seen[tk.ObjectKey] = true
		if len(seen) == 2 {
			close(done)
		}
		return nil
	})
	for _, key := range []string{"covers/a.png", "covers/b.png"} {
		if _, err := q.Enqueue(context.Background(), "b", key); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for consumers, saw %v", seen)
	}
}

func TestCleanupQueueRejectsEmptyKey(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	if _, err := q.Enqueue(context.Background(), "b", " "); err == nil {
		t.Fatalf("expected error for empty object key")
	}
}
