// Package memqueue is an in-process implementation of queue.Queue.
package memqueue

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/fanout/internal/errors"
	"github.com/Iron-Ham/fanout/internal/queue"
)

// Broker holds any number of named queues in memory. All methods are safe
// for concurrent use.
type Broker struct {
	mu     sync.Mutex
	queues map[string]*mailbox
	now    func() time.Time
}

type mailbox struct {
	ledger queue.Ledger
	// wake is closed and replaced whenever a message is sent, so every
	// long-polling receiver blocked on it is released.
	wake chan struct{}
}

// Option configures a Broker.
type Option func(*Broker)

// WithClock overrides the time source used for lease deadlines.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// New creates an empty Broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		queues: make(map[string]*mailbox),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ queue.Queue = (*Broker)(nil)

// Create makes the named queue if it does not exist. The address is the name.
func (b *Broker) Create(_ context.Context, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.NewValidationError("queue name must not be empty").WithField("name")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[name]; !ok {
		b.queues[name] = &mailbox{wake: make(chan struct{})}
	}
	return name, nil
}

// Send appends a message and wakes long-polling receivers.
func (b *Broker) Send(_ context.Context, address, body string, attrs queue.Attributes) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	mb, ok := b.queues[address]
	if !ok {
		return queue.NotFound(address)
	}
	mb.ledger.Append(body, attrs, b.now())
	close(mb.wake)
	mb.wake = make(chan struct{})
	return nil
}

// Receive leases visible messages, waiting up to opts.Wait for one to
// arrive. Messages whose lease expires during the wait are picked up too.
func (b *Broker) Receive(ctx context.Context, address string, opts queue.ReceiveOptions) ([]queue.Message, error) {
	deadline := b.now().Add(opts.Wait)
	for {
		b.mu.Lock()
		mb, ok := b.queues[address]
		if !ok {
			b.mu.Unlock()
			return nil, queue.NotFound(address)
		}
		now := b.now()
		msgs := mb.ledger.Claim(now, opts.MaxMessages, opts.Lease)
		if len(msgs) > 0 || !now.Before(deadline) {
			b.mu.Unlock()
			return msgs, nil
		}
		wait := deadline.Sub(now)
		if next, ok := mb.ledger.NextVisible(now); ok && next.Sub(now) < wait {
			wait = next.Sub(now)
		}
		wake := mb.wake
		b.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// ExtendLease pushes the lease deadline of the delivery identified by token.
func (b *Broker) ExtendLease(_ context.Context, address, token string, lease time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	mb, ok := b.queues[address]
	if !ok {
		return queue.NotFound(address)
	}
	return mb.ledger.Extend(token, b.now(), lease)
}

// Delete removes the message identified by token.
func (b *Broker) Delete(_ context.Context, address, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	mb, ok := b.queues[address]
	if !ok {
		return queue.NotFound(address)
	}
	return mb.ledger.Remove(token)
}

// DeleteQueue drops a queue and releases its waiters, which then observe
// the queue as missing.
func (b *Broker) DeleteQueue(_ context.Context, address string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	mb, ok := b.queues[address]
	if !ok {
		return queue.NotFound(address)
	}
	delete(b.queues, address)
	close(mb.wake)
	return nil
}

// Stats reports the depth of a queue.
func (b *Broker) Stats(address string) (queue.Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	mb, ok := b.queues[address]
	if !ok {
		return queue.Stats{}, queue.NotFound(address)
	}
	return mb.ledger.Stats(b.now()), nil
}
