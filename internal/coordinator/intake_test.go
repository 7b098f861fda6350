package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/Iron-Ham/fanout/internal/testutil"
)

func TestIntake_QueuesUntilTerminate(t *testing.T) {
	h := newHarness(t, WithScaler(&recordingScaler{}))
	for _, reply := range []string{"reply-1", "reply-2", "reply-3"} {
		h.submit(t, reply, twoByTwo(t), 2, false)
	}
	intake, _, _ := h.c.components()

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- intake.Run(ctx) }()

	testutil.Eventually(t, 2*time.Second, func() bool {
		return h.c.state.Requests().Len() == 3
	}, "requests queued = %d", h.c.state.Requests().Len())

	stats, _ := h.queue.Stats(h.c.Addresses().Submission)
	if stats.InFlight != 3 {
		t.Errorf("intake must not delete submissions, stats %+v", stats)
	}

	h.c.state.RequestTerminate()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("intake did not stop after terminate")
	}
}
