package coordinator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/fanout/internal/event"
	"github.com/Iron-Ham/fanout/internal/protocol"
	"github.com/Iron-Ham/fanout/internal/queue"
	"github.com/Iron-Ham/fanout/internal/testutil"
)

// echoWorker answers units until it has answered want of them.
func echoWorker(ctx context.Context, t *testing.T, h *harness, want int) {
	for answered := 0; answered < want; {
		msgs, err := h.queue.Receive(ctx, h.c.Addresses().Dispatch, queue.ReceiveOptions{
			MaxMessages: 10, Wait: 50 * time.Millisecond, Lease: time.Minute,
		})
		if err != nil {
			return
		}
		for _, m := range msgs {
			u, err := protocol.ParseUnit(m)
			if err != nil {
				t.Errorf("ParseUnit() error = %v", err)
				continue
			}
			block := protocol.Result{Sentiment: 4, Link: u.Link, Entities: []string{}, Sarcasm: protocol.NotSarcastic}.Format()
			body, attrs := protocol.ResultMessage{ReplyAddress: u.ReplyAddress, UnitID: u.ID, Block: block}.Encode()
			if err := h.queue.Send(ctx, h.c.Addresses().Results, body, attrs); err != nil {
				t.Errorf("send result: %v", err)
			}
			_ = h.queue.Delete(ctx, h.c.Addresses().Dispatch, m.Token)
			answered++
		}
	}
}

func TestCoordinator_EndToEnd(t *testing.T) {
	h := newHarness(t)
	reply := h.submit(t, "reply-1", twoByTwo(t), 2, true)

	go echoWorker(h.ctx, t, h, 4)

	done := make(chan error, 1)
	go func() { done <- h.c.Run(h.ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop")
	}

	notices := testutil.Drain(t, h.queue, reply)
	if len(notices) != 1 {
		t.Fatalf("got %d completion notices, want 1", len(notices))
	}
	completion, err := protocol.ParseCompletion(notices[0])
	if err != nil {
		t.Fatalf("ParseCompletion() error = %v", err)
	}
	if completion.Key != "answer-1.txt" {
		t.Errorf("output key = %q, want answer-1.txt", completion.Key)
	}
	rc, err := h.store.Get(h.ctx, h.settings.OutputBucket, completion.Key)
	if err != nil {
		t.Fatalf("Get(output) error = %v", err)
	}
	defer rc.Close()
	results, err := protocol.ParseResults(rc)
	if err != nil || len(results) != 4 {
		t.Fatalf("output has %d results, err %v; want 4", len(results), err)
	}

	if n := len(h.events.ofType("job.finalized")); n != 1 {
		t.Errorf("got %d job.finalized events, want 1", n)
	}

	// 4 units at n=2 scale the fleet to 2, and each gets one sentinel.
	sentinels := testutil.Drain(t, h.queue, h.c.Addresses().Dispatch)
	if len(sentinels) != 2 {
		t.Errorf("got %d terminate sentinels, want 2", len(sentinels))
	}
	for _, m := range sentinels {
		if !protocol.IsTerminate(m) {
			t.Errorf("non-sentinel left on dispatch queue: %q", m.Body)
		}
	}

	var phases []string
	for _, e := range h.events.ofType("coordinator.phase_changed") {
		pc := e.(event.PhaseChangedEvent)
		phases = append(phases, pc.From+">"+pc.To)
	}
	want := "running>draining draining>terminating terminating>stopped"
	if got := strings.Join(phases, " "); got != want {
		t.Errorf("phase changes = %q, want %q", got, want)
	}

	stats, _ := h.queue.Stats(h.c.Addresses().Submission)
	if stats.Visible+stats.InFlight != 0 {
		t.Errorf("submission not acknowledged: %+v", stats)
	}
	if h.c.State().Jobs().Len() != 0 || h.c.State().Outputs().Open() != 0 {
		t.Error("state not empty after stop")
	}
}

func TestCoordinator_StopsOnContextCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(h.ctx)
	done := make(chan error, 1)
	go func() { done <- h.c.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if h.c.State().Phase() != PhaseRunning {
		t.Errorf("phase = %s, want running", h.c.State().Phase())
	}
}
