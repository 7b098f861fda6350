package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/fanout/internal/blob"
	"github.com/Iron-Ham/fanout/internal/event"
	"github.com/Iron-Ham/fanout/internal/protocol"
	"github.com/Iron-Ham/fanout/internal/queue"
	"github.com/Iron-Ham/fanout/internal/testutil"
)

// failingStore rejects every upload.
type failingStore struct{ blob.Store }

func (failingStore) Put(context.Context, string, string, []byte) error {
	return fmt.Errorf("disk full")
}

func (h *harness) receiveResults(t *testing.T) []queue.Message {
	t.Helper()
	msgs, err := h.queue.Receive(h.ctx, h.c.Addresses().Results, queue.ReceiveOptions{MaxMessages: 10, Lease: time.Minute})
	if err != nil {
		t.Fatalf("Receive(results) error = %v", err)
	}
	return msgs
}

func TestAggregator_FinalizesOnLastResult(t *testing.T) {
	h := newHarness(t, WithScaler(&recordingScaler{}))
	reply := h.submit(t, "reply-1", twoByTwo(t), 2, false)
	h.dispatchNext(t)
	units := testutil.Drain(t, h.queue, h.c.Addresses().Dispatch)

	_, _, agg := h.c.components()

	h.answer(t, units[:3])
	agg.ProcessBatch(h.ctx, h.receiveResults(t))
	if notices := testutil.Drain(t, h.queue, reply); len(notices) != 0 {
		t.Fatalf("finalized after 3 of 4 results")
	}

	h.answer(t, units[3:])
	agg.ProcessBatch(h.ctx, h.receiveResults(t))

	notices := testutil.Drain(t, h.queue, reply)
	if len(notices) != 1 {
		t.Fatalf("got %d completion notices, want 1", len(notices))
	}
	done, _ := protocol.ParseCompletion(notices[0])
	rc, err := h.store.Get(h.ctx, h.settings.OutputBucket, done.Key)
	if err != nil {
		t.Fatalf("Get(output) error = %v", err)
	}
	defer rc.Close()
	results, err := protocol.ParseResults(rc)
	if err != nil || len(results) != 4 {
		t.Fatalf("output has %d results, err %v; want 4", len(results), err)
	}

	finalized := h.events.ofType("job.finalized")
	if len(finalized) != 1 || finalized[0].(event.JobFinalizedEvent).Units != 4 {
		t.Errorf("job.finalized events = %+v", finalized)
	}
	stats, _ := h.queue.Stats(h.c.Addresses().Results)
	if stats.Visible+stats.InFlight != 0 {
		t.Errorf("results not deleted: %+v", stats)
	}
	if h.c.state.Outputs().Open() != 0 {
		t.Error("local output not released")
	}
}

func TestAggregator_DropsDuplicatesAndStrays(t *testing.T) {
	h := newHarness(t, WithScaler(&recordingScaler{}))
	reply := h.submit(t, "reply-1", twoByTwo(t), 2, false)
	h.dispatchNext(t)
	units := testutil.Drain(t, h.queue, h.c.Addresses().Dispatch)

	h.answer(t, units[:1])
	h.answer(t, units[:1])
	stray, attrs := protocol.ResultMessage{ReplyAddress: "reply-gone", UnitID: "u-x", Block: "Sentiment: 1\n"}.Encode()
	_ = h.queue.Send(h.ctx, h.c.Addresses().Results, stray, attrs)
	_ = h.queue.Send(h.ctx, h.c.Addresses().Results, "no attributes", nil)

	_, _, agg := h.c.components()
	agg.ProcessBatch(h.ctx, h.receiveResults(t))

	dups := h.events.ofType("result.duplicate")
	if len(dups) != 2 {
		t.Fatalf("got %d result.duplicate events, want 2", len(dups))
	}
	if n, _ := h.c.state.Jobs().Outstanding(reply); n != 3 {
		t.Errorf("Outstanding() = %d, want 3", n)
	}
	name, _ := h.c.state.Outputs().Name(reply)
	data, _ := afero.ReadFile(h.fs, "/work/"+name)
	if got := strings.Count(string(data), "Sentiment:"); got != 1 {
		t.Errorf("output holds %d blocks, want 1", got)
	}
	stats, _ := h.queue.Stats(h.c.Addresses().Results)
	if stats.Visible+stats.InFlight != 0 {
		t.Errorf("anomalous results must still be deleted: %+v", stats)
	}
}

func TestAggregator_ConcurrentDuplicatesAppendOnce(t *testing.T) {
	h := newHarness(t, WithScaler(&recordingScaler{}))
	reply := h.submit(t, "reply-1", twoByTwo(t), 2, false)
	h.dispatchNext(t)
	units := testutil.Drain(t, h.queue, h.c.Addresses().Dispatch)

	h.answer(t, units[:1])
	h.answer(t, units[:1])
	msgs := h.receiveResults(t)
	if len(msgs) != 2 {
		t.Fatalf("received %d results, want 2", len(msgs))
	}

	_, _, first := h.c.components()
	_, _, second := h.c.components()
	var wg sync.WaitGroup
	for i, agg := range []*Aggregator{first, second} {
		wg.Add(1)
		go func(agg *Aggregator, msg queue.Message) {
			defer wg.Done()
			agg.ProcessBatch(h.ctx, []queue.Message{msg})
		}(agg, msgs[i])
	}
	wg.Wait()

	if n, _ := h.c.state.Jobs().Outstanding(reply); n != 3 {
		t.Errorf("Outstanding() = %d, want 3", n)
	}
	name, _ := h.c.state.Outputs().Name(reply)
	data, _ := afero.ReadFile(h.fs, "/work/"+name)
	if got := strings.Count(string(data), "Sentiment:"); got != 1 {
		t.Errorf("output holds %d blocks, want 1", got)
	}
	if dups := h.events.ofType("result.duplicate"); len(dups) != 1 {
		t.Errorf("got %d result.duplicate events, want 1", len(dups))
	}
}

func TestAggregator_AllocationFailureAbandonsBatch(t *testing.T) {
	h := newHarness(t, WithScaler(&recordingScaler{}))
	reply := h.submit(t, "reply-1", twoByTwo(t), 2, false)
	h.dispatchNext(t)
	units := testutil.Drain(t, h.queue, h.c.Addresses().Dispatch)
	h.answer(t, units[:2])

	h.c.state.outputs = NewAccumulator(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/work")
	_, _, agg := h.c.components()
	agg.ProcessBatch(h.ctx, h.receiveResults(t))

	if n, _ := h.c.state.Jobs().Outstanding(reply); n != 4 {
		t.Errorf("Outstanding() = %d, want 4 after an abandoned batch", n)
	}
	stats, _ := h.queue.Stats(h.c.Addresses().Results)
	if stats.InFlight != 2 {
		t.Errorf("abandoned results should stay leased for redelivery, stats %+v", stats)
	}
}

func TestAggregator_RetriesFailedFinalize(t *testing.T) {
	h := newHarness(t, WithScaler(&recordingScaler{}))
	reply := h.submit(t, "reply-1", twoByTwo(t), 2, false)
	h.dispatchNext(t)
	units := testutil.Drain(t, h.queue, h.c.Addresses().Dispatch)
	h.answer(t, units)

	_, _, agg := h.c.components()
	good := agg.fin.blobs
	agg.fin.blobs = failingStore{good}
	agg.ProcessBatch(h.ctx, h.receiveResults(t))
	if h.c.state.Jobs().Len() != 1 {
		t.Fatal("job left the table although its upload failed")
	}

	agg.fin.blobs = good
	agg.fin.retry(h.ctx)
	if h.c.state.Jobs().Len() != 0 {
		t.Error("retry did not finalize the job")
	}
	if n := len(testutil.Drain(t, h.queue, reply)); n != 1 {
		t.Errorf("got %d completion notices, want 1", n)
	}
}
