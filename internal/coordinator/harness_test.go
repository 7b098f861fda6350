package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/fanout/internal/blob"
	"github.com/Iron-Ham/fanout/internal/event"
	"github.com/Iron-Ham/fanout/internal/protocol"
	"github.com/Iron-Ham/fanout/internal/queue"
	"github.com/Iron-Ham/fanout/internal/queue/memqueue"
	"github.com/Iron-Ham/fanout/internal/scaling"
	"github.com/Iron-Ham/fanout/internal/testutil"
)

// fakeFleet counts created instances as running.
type fakeFleet struct {
	mu      sync.Mutex
	running int
	created []int
}

func (f *fakeFleet) CreateInstances(_ context.Context, count int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, count)
	f.running += count
	return nil
}

func (f *fakeFleet) CountRunning(context.Context, string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, nil
}

// recordingScaler records each Reconcile call.
type recordingScaler struct {
	mu    sync.Mutex
	calls [][2]int
}

func (s *recordingScaler) Reconcile(_ context.Context, units, n int) scaling.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, [2]int{units, n})
	return scaling.Decision{Action: scaling.ActionNone}
}

// eventLog captures every published event.
type eventLog struct {
	mu     sync.Mutex
	events []event.Event
}

func (l *eventLog) record(e event.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofType(eventType string) []event.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []event.Event
	for _, e := range l.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	ctx      context.Context
	settings Settings
	queue    *memqueue.Broker
	store    *blob.AferoStore
	fs       afero.Fs
	fleet    *fakeFleet
	events   *eventLog
	c        *Coordinator
}

func testSettings() Settings {
	s := DefaultSettings()
	s.WorkDir = "/work"
	s.PollBackoff = 5 * time.Millisecond
	s.IntakeTick = time.Millisecond
	s.DrainDelay = 10 * time.Millisecond
	return s
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	h := &harness{
		ctx:      ctx,
		settings: testSettings(),
		queue:    memqueue.New(),
		store:    blob.NewAferoStore(afero.NewMemMapFs(), "/blobs"),
		fs:       afero.NewMemMapFs(),
		fleet:    &fakeFleet{},
		events:   &eventLog{},
	}
	bus := event.NewBus()
	bus.SubscribeAll(h.events.record)

	opts = append([]Option{WithFs(h.fs), WithBus(bus)}, opts...)
	h.c = New(h.settings, h.queue, h.store, h.fleet, opts...)
	if err := h.c.Setup(ctx); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	return h
}

// submit uploads input and sends a job request, returning the reply
// address.
func (h *harness) submit(t *testing.T, reply string, input []byte, n int, terminate bool) string {
	t.Helper()
	addr, err := h.queue.Create(h.ctx, reply)
	if err != nil {
		t.Fatalf("create reply queue: %v", err)
	}
	key := reply + ".jsonl"
	if err := h.store.Put(h.ctx, h.settings.InputBucket, key, input); err != nil {
		t.Fatalf("put input: %v", err)
	}
	body, attrs := protocol.JobRequest{
		ReplyAddress: addr,
		Bucket:       h.settings.InputBucket,
		Key:          key,
		BatchSize:    n,
		Terminate:    terminate,
	}.Encode()
	if err := h.queue.Send(h.ctx, h.c.Addresses().Submission, body, attrs); err != nil {
		t.Fatalf("send submission: %v", err)
	}
	return addr
}

// receiveOne leases the single next message on address.
func (h *harness) receiveOne(t *testing.T, address string) queue.Message {
	t.Helper()
	msgs, err := h.queue.Receive(h.ctx, address, queue.ReceiveOptions{MaxMessages: 1, Wait: time.Second, Lease: time.Minute})
	if err != nil || len(msgs) != 1 {
		t.Fatalf("Receive(%s) = %d messages, err %v", address, len(msgs), err)
	}
	return msgs[0]
}

// answer sends a formatted result for every unit on the dispatch queue.
func (h *harness) answer(t *testing.T, units []queue.Message) {
	t.Helper()
	for _, m := range units {
		u, err := protocol.ParseUnit(m)
		if err != nil {
			t.Fatalf("ParseUnit() error = %v", err)
		}
		block := protocol.Result{Sentiment: 3, Link: u.Link, Sarcasm: protocol.NotSarcastic}.Format()
		body, attrs := protocol.ResultMessage{ReplyAddress: u.ReplyAddress, UnitID: u.ID, Block: block}.Encode()
		if err := h.queue.Send(h.ctx, h.c.Addresses().Results, body, attrs); err != nil {
			t.Fatalf("send result: %v", err)
		}
	}
}

func twoByTwo(t *testing.T) []byte {
	return testutil.InputBlob(
		testutil.InputLine(t, "Phone",
			testutil.Review{Link: "https://example.com/r/1", Text: "Great phone.", Rating: 5},
			testutil.Review{Link: "https://example.com/r/2", Text: "Broke in a week.", Rating: 1}),
		testutil.InputLine(t, "Case",
			testutil.Review{Link: "https://example.com/r/3", Text: "It is a case.", Rating: 3},
			testutil.Review{Link: "https://example.com/r/4", Text: "Lovely colour.", Rating: 4}),
	)
}
