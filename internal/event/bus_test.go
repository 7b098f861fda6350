package event

import (
	"sync"
	"testing"
)

func TestBus_Publish(t *testing.T) {
	bus := NewBus()

	var received Event
	bus.Subscribe("job.finalized", func(e Event) {
		received = e
	})

	bus.Publish(NewJobFinalizedEvent("reply-1", "answer-0.txt", 4))

	done, ok := received.(JobFinalizedEvent)
	if !ok {
		t.Fatalf("handler received %T, want JobFinalizedEvent", received)
	}
	if done.ReplyAddress != "reply-1" || done.OutputKey != "answer-0.txt" || done.Units != 4 {
		t.Errorf("unexpected event payload: %+v", done)
	}
	if done.Timestamp().IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestBus_OnlyMatchingTypes(t *testing.T) {
	bus := NewBus()

	calls := 0
	bus.Subscribe("job.sealed", func(e Event) { calls++ })

	bus.Publish(NewJobAcceptedEvent("reply-1", "in", "key", 5, false))
	if calls != 0 {
		t.Errorf("handler called %d times for unrelated event", calls)
	}
}

func TestBus_WildcardRunsAfterSpecific(t *testing.T) {
	bus := NewBus()

	var order []string
	bus.SubscribeAll(func(e Event) { order = append(order, "all") })
	bus.Subscribe("scaling.decision", func(e Event) { order = append(order, "specific") })

	bus.Publish(NewScalingDecisionEvent("scale_up", 2, "reason", 0))

	if len(order) != 2 || order[0] != "specific" || order[1] != "all" {
		t.Errorf("dispatch order = %v, want [specific all]", order)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	calls := 0
	id := bus.Subscribe("worker.terminating", func(e Event) { calls++ })
	bus.Subscribe("worker.terminating", func(e Event) { calls += 10 })

	if !bus.Unsubscribe(id) {
		t.Fatal("Unsubscribe returned false for a live subscription")
	}
	if bus.Unsubscribe(id) {
		t.Error("second Unsubscribe should return false")
	}

	bus.Publish(NewWorkerTerminatingEvent("w-1"))
	if calls != 10 {
		t.Errorf("calls = %d, want 10", calls)
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", bus.SubscriptionCount())
	}
}

func TestBus_RecoversPanics(t *testing.T) {
	bus := NewBus()

	var reported string
	bus.OnPanic(func(eventType string, recovered any, stack []byte) {
		reported = eventType
	})

	secondCalled := false
	bus.Subscribe("result.duplicate", func(e Event) { panic("boom") })
	bus.Subscribe("result.duplicate", func(e Event) { secondCalled = true })

	bus.Publish(NewDuplicateResultEvent("reply-1", "u-1", "already counted"))

	if reported != "result.duplicate" {
		t.Errorf("panic reported for %q", reported)
	}
	if !secondCalled {
		t.Error("handler after a panicking handler should still run")
	}
}

func TestBus_NilIsNoop(t *testing.T) {
	var bus *Bus
	bus.Publish(NewPhaseChangedEvent("running", "draining"))
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	count := 0
	bus.Subscribe("job.accepted", func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Go(func() {
			bus.Publish(NewJobAcceptedEvent("reply", "b", "k", 1, false))
		})
	}
	wg.Wait()

	if count != 50 {
		t.Errorf("count = %d, want 50", count)
	}
}
