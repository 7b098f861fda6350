package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/fanout/internal/event"
	"github.com/Iron-Ham/fanout/internal/protocol"
	"github.com/Iron-Ham/fanout/internal/queue"
	"github.com/Iron-Ham/fanout/internal/queue/memqueue"
	"github.com/Iron-Ham/fanout/internal/testutil"
)

type fixedSentiment struct {
	score int
	err   error
}

func (f fixedSentiment) ClassifySentiment(context.Context, string) (int, error) {
	return f.score, f.err
}

type fixedEntities []string

func (f fixedEntities) ExtractEntities(context.Context, string) ([]string, error) {
	return f, nil
}

type recordingSelf struct {
	calls atomic.Int32
}

func (s *recordingSelf) TerminateSelf(context.Context) error {
	s.calls.Add(1)
	return nil
}

func testSettings() Settings {
	return Settings{
		DispatchQueue:     "dispatch",
		ResultsQueue:      "results",
		Wait:              20 * time.Millisecond,
		Lease:             time.Minute,
		PollBackoff:       5 * time.Millisecond,
		DrainDelay:        30 * time.Millisecond,
		LeaseInitialDelay: time.Second,
		LeaseInterval:     time.Second,
	}
}

type fixture struct {
	ctx    context.Context
	queue  *memqueue.Broker
	self   *recordingSelf
	worker *Worker
}

func newFixture(t *testing.T, sentiment fixedSentiment, opts ...Option) *fixture {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	f := &fixture{ctx: ctx, queue: memqueue.New(), self: &recordingSelf{}}
	f.worker = New("worker-test", testSettings(), f.queue, sentiment, fixedEntities{"Alice:PERSON"}, f.self, opts...)
	if err := f.worker.resolve(ctx); err != nil {
		t.Fatalf("resolve() error = %v", err)
	}
	return f
}

func (f *fixture) send(t *testing.T, body string, attrs queue.Attributes) queue.Message {
	t.Helper()
	if err := f.queue.Send(f.ctx, "dispatch", body, attrs); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	msgs, err := f.queue.Receive(f.ctx, "dispatch", queue.ReceiveOptions{MaxMessages: 1, Lease: time.Minute})
	if err != nil || len(msgs) != 1 {
		t.Fatalf("Receive() = %d, %v", len(msgs), err)
	}
	return msgs[0]
}

func unitAttrs(rating string) queue.Attributes {
	_, attrs := protocol.Unit{ID: "unit-1", ReplyAddress: "reply-1", Link: "https://example.com/r/1", Rating: rating}.Encode()
	return attrs
}

func TestWorker_ProcessSendsResult(t *testing.T) {
	tests := []struct {
		name        string
		rating      string
		sentiment   int
		wantSarcasm string
	}{
		{"rating matches", "3", 3, protocol.NotSarcastic},
		{"rating disagrees", "5", 1, protocol.Sarcastic},
		{"non-numeric rating", "great", 5, protocol.Sarcastic},
		{"empty rating", "", 3, protocol.Sarcastic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixedSentiment{score: tt.sentiment})
			msg := f.send(t, "Alice loved it.", unitAttrs(tt.rating))
			if f.worker.Process(f.ctx, msg) {
				t.Fatal("Process() reported termination for a unit")
			}

			results := testutil.Drain(t, f.queue, "results")
			if len(results) != 1 {
				t.Fatalf("got %d results, want 1", len(results))
			}
			res, err := protocol.ParseResultMessage(results[0])
			if err != nil {
				t.Fatalf("ParseResultMessage() error = %v", err)
			}
			if res.ReplyAddress != "reply-1" || res.UnitID != "unit-1" {
				t.Errorf("result routing = %+v", res)
			}
			want := fmt.Sprintf("Sentiment: %d\nLink: https://example.com/r/1\nEntities: [Alice:PERSON]\nSarcasm: %s\n\n",
				tt.sentiment, tt.wantSarcasm)
			if res.Block != want {
				t.Errorf("block = %q, want %q", res.Block, want)
			}

			stats, _ := f.queue.Stats("dispatch")
			if stats.Visible+stats.InFlight != 0 {
				t.Errorf("unit not deleted: %+v", stats)
			}
			if f.worker.Processed() != 1 {
				t.Errorf("Processed() = %d, want 1", f.worker.Processed())
			}
		})
	}
}

func TestWorker_MissingReplyAddressIsDropped(t *testing.T) {
	f := newFixture(t, fixedSentiment{score: 3})
	msg := f.send(t, "text", queue.Attributes{queue.AttrRating: "3"})
	f.worker.Process(f.ctx, msg)

	if n := len(testutil.Drain(t, f.queue, "results")); n != 0 {
		t.Errorf("got %d results for a unit without a reply address", n)
	}
	stats, _ := f.queue.Stats("dispatch")
	if stats.Visible+stats.InFlight != 0 {
		t.Errorf("malformed unit should be deleted: %+v", stats)
	}
}

func TestWorker_AnalysisFailureLeavesUnit(t *testing.T) {
	f := newFixture(t, fixedSentiment{err: fmt.Errorf("model unavailable")})
	msg := f.send(t, "text", unitAttrs("3"))
	f.worker.Process(f.ctx, msg)

	if n := len(testutil.Drain(t, f.queue, "results")); n != 0 {
		t.Errorf("got %d results after a failed analysis", n)
	}
	stats, _ := f.queue.Stats("dispatch")
	if stats.InFlight != 1 {
		t.Errorf("unit should stay leased for redelivery: %+v", stats)
	}
}

func TestWorker_TerminateSentinel(t *testing.T) {
	bus := event.NewBus()
	var terminating atomic.Int32
	bus.Subscribe("worker.terminating", func(event.Event) { terminating.Add(1) })

	f := newFixture(t, fixedSentiment{score: 3}, WithBus(bus))
	body, attrs := protocol.TerminateMessage()
	if err := f.queue.Send(f.ctx, "dispatch", body, attrs); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	start := time.Now()
	if err := f.worker.Run(f.ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < testSettings().DrainDelay {
		t.Errorf("terminated after %s, before the drain delay", elapsed)
	}

	if f.self.calls.Load() != 1 {
		t.Errorf("TerminateSelf called %d times, want 1", f.self.calls.Load())
	}
	if n := len(testutil.Drain(t, f.queue, "results")); n != 0 {
		t.Errorf("terminate sentinel produced %d results", n)
	}
	stats, _ := f.queue.Stats("dispatch")
	if stats.Visible+stats.InFlight != 0 {
		t.Errorf("sentinel not deleted: %+v", stats)
	}
	if terminating.Load() != 1 {
		t.Errorf("worker.terminating published %d times, want 1", terminating.Load())
	}
}

func TestWorker_RunProcessesUntilCancelled(t *testing.T) {
	f := newFixture(t, fixedSentiment{score: 4})
	for i := range 3 {
		body, attrs := protocol.Unit{ID: fmt.Sprintf("u%d", i), ReplyAddress: "reply-1", Rating: "4"}.Encode()
		_ = f.queue.Send(f.ctx, "dispatch", body, attrs)
	}

	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	testutil.Eventually(t, 2*time.Second, func() bool { return f.worker.Processed() == 3 },
		"processed %d units", f.worker.Processed())
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if f.self.calls.Load() != 0 {
		t.Error("cancellation must not self-terminate")
	}
}
