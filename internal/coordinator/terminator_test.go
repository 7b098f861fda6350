package coordinator

import (
	"sync"
	"testing"

	"github.com/Iron-Ham/fanout/internal/protocol"
	"github.com/Iron-Ham/fanout/internal/testutil"
)

func TestTerminator_NotReady(t *testing.T) {
	h := newHarness(t, WithScaler(&recordingScaler{}))
	_, _, agg := h.c.components()
	term := agg.terminator

	if term.MaybeTerminate(h.ctx) {
		t.Fatal("terminated without a terminate request")
	}

	h.submit(t, "reply-1", twoByTwo(t), 2, true)
	h.dispatchNext(t)
	if !h.c.state.TerminateRequested() {
		t.Fatal("terminate flag not set")
	}
	if term.MaybeTerminate(h.ctx) {
		t.Error("terminated while a job is outstanding")
	}
	if h.c.state.Phase() != PhaseDraining {
		t.Errorf("phase = %s, want draining", h.c.state.Phase())
	}
}

func TestTerminator_BroadcastsOnce(t *testing.T) {
	h := newHarness(t, WithScaler(&recordingScaler{}))
	h.fleet.running = 3
	h.c.state.RequestTerminate()
	_, _, agg := h.c.components()
	agg.terminator.drain = 0

	var wg sync.WaitGroup
	var mu sync.Mutex
	stopped := 0
	for range 8 {
		wg.Go(func() {
			if agg.terminator.MaybeTerminate(h.ctx) {
				mu.Lock()
				stopped++
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	sentinels := testutil.Drain(t, h.queue, h.c.Addresses().Dispatch)
	if len(sentinels) != 3 {
		t.Fatalf("sent %d terminate sentinels, want 3", len(sentinels))
	}
	for _, m := range sentinels {
		if !protocol.IsTerminate(m) || m.Attributes["terminate"] != protocol.TerminateValue {
			t.Errorf("unexpected dispatch message %+v", m)
		}
	}
	if stopped == 0 {
		t.Error("no caller observed termination")
	}
	if h.c.state.Phase() != PhaseStopped {
		t.Errorf("phase = %s, want stopped", h.c.state.Phase())
	}

	if _, first := agg.terminator.Broadcast(h.ctx); first {
		t.Error("a later Broadcast() must not send again")
	}
	if n := len(testutil.Drain(t, h.queue, h.c.Addresses().Dispatch)); n != 0 {
		t.Errorf("extra sentinels sent: %d", n)
	}
}
