// Package queuetest holds behavior tests every queue.Queue implementation
// must pass.
package queuetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/fanout/internal/errors"
	"github.com/Iron-Ham/fanout/internal/queue"
)

// Run exercises a queue.Queue built fresh by factory for each subtest.
func Run(t *testing.T, factory func(t *testing.T) queue.Queue) {
	t.Run("send then receive", func(t *testing.T) {
		q := factory(t)
		ctx := context.Background()
		addr := mustCreate(t, q, "jobs")

		attrs := queue.Attributes{queue.AttrReplyAddress: "reply-1", queue.AttrRating: "4"}
		if err := q.Send(ctx, addr, "hello", attrs); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		attrs[queue.AttrRating] = "mutated"

		msgs, err := q.Receive(ctx, addr, queue.ReceiveOptions{MaxMessages: 10, Lease: time.Minute})
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		if len(msgs) != 1 {
			t.Fatalf("Receive() returned %d messages, want 1", len(msgs))
		}
		m := msgs[0]
		if m.Body != "hello" {
			t.Errorf("Body = %q, want %q", m.Body, "hello")
		}
		if m.Attributes[queue.AttrRating] != "4" {
			t.Errorf("rating attribute = %q, want 4 (sender mutation must not leak)", m.Attributes[queue.AttrRating])
		}
		if m.Token == "" || m.ReceiveCount != 1 {
			t.Errorf("Token = %q, ReceiveCount = %d", m.Token, m.ReceiveCount)
		}
	})

	t.Run("leased message is invisible", func(t *testing.T) {
		q := factory(t)
		ctx := context.Background()
		addr := mustCreate(t, q, "jobs")
		mustSend(t, q, addr, "a")

		first := mustReceive(t, q, addr, 10, time.Minute)
		if len(first) != 1 {
			t.Fatalf("first receive got %d messages", len(first))
		}
		second := mustReceive(t, q, addr, 10, time.Minute)
		if len(second) != 0 {
			t.Fatalf("leased message was redelivered: %+v", second)
		}
		if err := q.Delete(ctx, addr, first[0].Token); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
	})

	t.Run("expired lease redelivers with new token", func(t *testing.T) {
		q := factory(t)
		ctx := context.Background()
		addr := mustCreate(t, q, "jobs")
		mustSend(t, q, addr, "a")

		first := mustReceive(t, q, addr, 1, 20*time.Millisecond)
		time.Sleep(60 * time.Millisecond)
		second := mustReceive(t, q, addr, 1, time.Minute)
		if len(second) != 1 {
			t.Fatalf("expired message not redelivered")
		}
		if second[0].ReceiveCount != 2 {
			t.Errorf("ReceiveCount = %d, want 2", second[0].ReceiveCount)
		}
		if err := q.Delete(ctx, addr, first[0].Token); !errors.Is(err, errors.ErrUnknownToken) {
			t.Errorf("Delete(stale token) error = %v, want ErrUnknownToken", err)
		}
		if err := q.Delete(ctx, addr, second[0].Token); err != nil {
			t.Errorf("Delete(current token) error = %v", err)
		}
	})

	t.Run("extend lease is idempotent and never shortens", func(t *testing.T) {
		q := factory(t)
		ctx := context.Background()
		addr := mustCreate(t, q, "jobs")
		mustSend(t, q, addr, "a")

		msgs := mustReceive(t, q, addr, 1, 80*time.Millisecond)
		tok := msgs[0].Token
		if err := q.ExtendLease(ctx, addr, tok, time.Minute); err != nil {
			t.Fatalf("ExtendLease() error = %v", err)
		}
		if err := q.ExtendLease(ctx, addr, tok, time.Minute); err != nil {
			t.Fatalf("second ExtendLease() error = %v", err)
		}
		// A shorter extension must not pull the deadline back.
		if err := q.ExtendLease(ctx, addr, tok, time.Millisecond); err != nil {
			t.Fatalf("short ExtendLease() error = %v", err)
		}
		time.Sleep(120 * time.Millisecond)
		if again := mustReceive(t, q, addr, 1, time.Minute); len(again) != 0 {
			t.Fatal("extended message became visible")
		}
	})

	t.Run("extend after delete reports unknown token", func(t *testing.T) {
		q := factory(t)
		ctx := context.Background()
		addr := mustCreate(t, q, "jobs")
		mustSend(t, q, addr, "a")

		msgs := mustReceive(t, q, addr, 1, time.Minute)
		if err := q.Delete(ctx, addr, msgs[0].Token); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if err := q.ExtendLease(ctx, addr, msgs[0].Token, time.Minute); !errors.Is(err, errors.ErrUnknownToken) {
			t.Errorf("ExtendLease() after delete error = %v, want ErrUnknownToken", err)
		}
	})

	t.Run("max messages caps batch", func(t *testing.T) {
		q := factory(t)
		addr := mustCreate(t, q, "jobs")
		for range 15 {
			mustSend(t, q, addr, "x")
		}
		if got := mustReceive(t, q, addr, 10, time.Minute); len(got) != 10 {
			t.Errorf("first batch = %d, want 10", len(got))
		}
		if got := mustReceive(t, q, addr, 10, time.Minute); len(got) != 5 {
			t.Errorf("second batch = %d, want 5", len(got))
		}
	})

	t.Run("long poll wakes on send", func(t *testing.T) {
		q := factory(t)
		ctx := context.Background()
		addr := mustCreate(t, q, "jobs")

		var wg sync.WaitGroup
		var got []queue.Message
		var recvErr error
		start := time.Now()
		wg.Go(func() {
			got, recvErr = q.Receive(ctx, addr, queue.ReceiveOptions{MaxMessages: 1, Wait: 5 * time.Second, Lease: time.Minute})
		})
		time.Sleep(50 * time.Millisecond)
		mustSend(t, q, addr, "late")
		wg.Wait()

		if recvErr != nil {
			t.Fatalf("Receive() error = %v", recvErr)
		}
		if len(got) != 1 || got[0].Body != "late" {
			t.Fatalf("Receive() = %+v", got)
		}
		if elapsed := time.Since(start); elapsed > 3*time.Second {
			t.Errorf("long poll returned after %s, want prompt wake-up", elapsed)
		}
	})

	t.Run("long poll times out empty", func(t *testing.T) {
		q := factory(t)
		addr := mustCreate(t, q, "jobs")
		start := time.Now()
		msgs, err := q.Receive(context.Background(), addr, queue.ReceiveOptions{MaxMessages: 1, Wait: 100 * time.Millisecond, Lease: time.Minute})
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		if len(msgs) != 0 {
			t.Fatalf("Receive() = %+v, want empty", msgs)
		}
		if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
			t.Errorf("Receive() returned after %s, want about 100ms", elapsed)
		}
	})

	t.Run("long poll honors context", func(t *testing.T) {
		q := factory(t)
		addr := mustCreate(t, q, "jobs")
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := q.Receive(ctx, addr, queue.ReceiveOptions{MaxMessages: 1, Wait: 10 * time.Second, Lease: time.Minute})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Receive() error = %v, want context.DeadlineExceeded", err)
		}
	})

	t.Run("unknown queue", func(t *testing.T) {
		q := factory(t)
		ctx := context.Background()
		if err := q.Send(ctx, "missing", "x", nil); !errors.Is(err, errors.ErrQueueNotFound) {
			t.Errorf("Send() error = %v, want ErrQueueNotFound", err)
		}
		if _, err := q.Receive(ctx, "missing", queue.ReceiveOptions{}); !errors.Is(err, errors.ErrQueueNotFound) {
			t.Errorf("Receive() error = %v, want ErrQueueNotFound", err)
		}
	})

	t.Run("delete queue", func(t *testing.T) {
		q := factory(t)
		ctx := context.Background()
		addr := mustCreate(t, q, "reply-abc")
		mustSend(t, q, addr, "x")
		if err := q.DeleteQueue(ctx, addr); err != nil {
			t.Fatalf("DeleteQueue() error = %v", err)
		}
		if err := q.Send(ctx, addr, "y", nil); !errors.Is(err, errors.ErrQueueNotFound) {
			t.Errorf("Send() after DeleteQueue error = %v, want ErrQueueNotFound", err)
		}
	})

	t.Run("create is idempotent", func(t *testing.T) {
		q := factory(t)
		addr := mustCreate(t, q, "jobs")
		mustSend(t, q, addr, "keep")
		again := mustCreate(t, q, "jobs")
		if again != addr {
			t.Errorf("Create() address changed: %q vs %q", again, addr)
		}
		if got := mustReceive(t, q, addr, 10, time.Minute); len(got) != 1 {
			t.Errorf("re-Create lost messages: got %d", len(got))
		}
	})
}

func mustCreate(t *testing.T, q queue.Queue, name string) string {
	t.Helper()
	addr, err := q.Create(context.Background(), name)
	if err != nil {
		t.Fatalf("Create(%q) error = %v", name, err)
	}
	return addr
}

func mustSend(t *testing.T, q queue.Queue, addr, body string) {
	t.Helper()
	if err := q.Send(context.Background(), addr, body, nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
}

func mustReceive(t *testing.T, q queue.Queue, addr string, max int, lease time.Duration) []queue.Message {
	t.Helper()
	msgs, err := q.Receive(context.Background(), addr, queue.ReceiveOptions{MaxMessages: max, Lease: lease})
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	return msgs
}
