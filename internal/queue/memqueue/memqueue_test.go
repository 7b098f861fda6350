package memqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/fanout/internal/queue"
	"github.com/Iron-Ham/fanout/internal/queue/queuetest"
)

func TestBroker_Conformance(t *testing.T) {
	queuetest.Run(t, func(t *testing.T) queue.Queue { return New() })
}

func TestBroker_FakeClockExpiry(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	b := New(WithClock(clock))
	ctx := context.Background()
	addr, _ := b.Create(ctx, "results")
	_ = b.Send(ctx, addr, "r1", nil)

	opts := queue.ReceiveOptions{MaxMessages: 10, Lease: 20 * time.Second}
	if got, _ := b.Receive(ctx, addr, opts); len(got) != 1 {
		t.Fatalf("Receive() = %d messages, want 1", len(got))
	}

	advance(19 * time.Second)
	if got, _ := b.Receive(ctx, addr, opts); len(got) != 0 {
		t.Fatal("message visible before lease expiry")
	}
	if s, _ := b.Stats(addr); s.InFlight != 1 {
		t.Errorf("Stats().InFlight = %d, want 1", s.InFlight)
	}

	advance(2 * time.Second)
	got, _ := b.Receive(ctx, addr, opts)
	if len(got) != 1 || got[0].ReceiveCount != 2 {
		t.Fatalf("redelivery = %+v, want one message with ReceiveCount 2", got)
	}
}

func TestBroker_DeleteQueueReleasesWaiters(t *testing.T) {
	b := New()
	ctx := context.Background()
	addr, _ := b.Create(ctx, "reply")

	done := make(chan error, 1)
	go func() {
		_, err := b.Receive(ctx, addr, queue.ReceiveOptions{Wait: 10 * time.Second})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	if err := b.DeleteQueue(ctx, addr); err != nil {
		t.Fatalf("DeleteQueue() error = %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Error("Receive() on a deleted queue should fail")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not released by DeleteQueue")
	}
}

func TestBroker_CreateRejectsEmptyName(t *testing.T) {
	if _, err := New().Create(context.Background(), "  "); err == nil {
		t.Error("Create(\"  \") should fail")
	}
}
