// Package dirqueue implements queue.Queue on a shared directory so that the
// coordinator, its workers and clients can run as separate processes on one
// host (or on hosts sharing a filesystem with working flock).
//
// Layout: <root>/<queue-name>/messages.json holds the queue's ledger and
// <root>/<queue-name>/queue.lock serializes access to it. Long-polling
// receivers are woken by fsnotify events on the queue directory, with a
// periodic re-check as a fallback for filesystems that do not deliver them.
package dirqueue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/fanout/internal/errors"
	"github.com/Iron-Ham/fanout/internal/queue"
)

const defaultRecheckInterval = 250 * time.Millisecond

// Broker is a directory-backed queue.Queue. It holds no in-memory state
// besides its configuration, so any number of Brokers (in any number of
// processes) may share a root.
type Broker struct {
	root    string
	now     func() time.Time
	recheck time.Duration
}

// Option configures a Broker.
type Option func(*Broker)

// WithClock overrides the time source used for lease deadlines.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// WithRecheckInterval sets how often a long-polling Receive re-reads the
// queue when no filesystem event arrives.
func WithRecheckInterval(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.recheck = d
		}
	}
}

// New creates a Broker rooted at root, creating the directory if needed.
func New(root string, opts ...Option) (*Broker, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create queue root: %w", err)
	}
	b := &Broker{root: root, now: time.Now, recheck: defaultRecheckInterval}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

var _ queue.Queue = (*Broker)(nil)

// Create makes the queue directory. The address is the queue name.
func (b *Broker) Create(_ context.Context, name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	if err := os.MkdirAll(b.dir(name), 0755); err != nil {
		return "", errors.NewTransportError("create queue", err).WithAddress(name)
	}
	return name, nil
}

// Send appends a message to the queue's ledger.
func (b *Broker) Send(_ context.Context, address, body string, attrs queue.Attributes) error {
	return b.update(address, func(l *queue.Ledger, now time.Time) error {
		l.Append(body, attrs, now)
		return nil
	})
}

// Receive leases visible messages, waiting up to opts.Wait for one.
func (b *Broker) Receive(ctx context.Context, address string, opts queue.ReceiveOptions) ([]queue.Message, error) {
	if opts.Wait <= 0 {
		return b.claim(address, opts)
	}

	// Watch before the first claim so a Send between the claim and the
	// wait is not missed.
	w := b.watch(address)
	if w != nil {
		defer func() { _ = w.Close() }()
	}

	deadline := time.Now().Add(opts.Wait)
	for {
		msgs, err := b.claim(address, opts)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if err := b.wait(ctx, w, min(remaining, b.recheck)); err != nil {
			return nil, err
		}
	}
}

// ExtendLease pushes the lease deadline of the delivery identified by token.
func (b *Broker) ExtendLease(_ context.Context, address, token string, lease time.Duration) error {
	return b.update(address, func(l *queue.Ledger, now time.Time) error {
		return l.Extend(token, now, lease)
	})
}

// Delete removes the message identified by token.
func (b *Broker) Delete(_ context.Context, address, token string) error {
	return b.update(address, func(l *queue.Ledger, _ time.Time) error {
		return l.Remove(token)
	})
}

// DeleteQueue removes the queue directory.
func (b *Broker) DeleteQueue(_ context.Context, address string) error {
	if err := validName(address); err != nil {
		return err
	}
	dir := b.dir(address)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return queue.NotFound(address)
	}
	fl := newFileLock(dir)
	if err := fl.lock(); err != nil {
		return errors.NewTransportError("delete queue", err).WithAddress(address)
	}
	defer func() { _ = fl.unlock() }()
	if err := os.RemoveAll(dir); err != nil {
		return errors.NewTransportError("delete queue", err).WithAddress(address)
	}
	return nil
}

// Stats reports the depth of a queue.
func (b *Broker) Stats(address string) (queue.Stats, error) {
	var s queue.Stats
	err := b.read(address, func(l *queue.Ledger, now time.Time) {
		s = l.Stats(now)
	})
	return s, err
}

func (b *Broker) claim(address string, opts queue.ReceiveOptions) ([]queue.Message, error) {
	var msgs []queue.Message
	err := b.update(address, func(l *queue.Ledger, now time.Time) error {
		msgs = l.Claim(now, opts.MaxMessages, opts.Lease)
		return nil
	})
	return msgs, err
}

// update runs fn against the queue's ledger under the directory lock and
// persists the result. An error from fn aborts the write.
func (b *Broker) update(address string, fn func(*queue.Ledger, time.Time) error) error {
	return b.locked(address, func(dir string) error {
		l, err := loadLedger(dir)
		if err != nil {
			return errors.NewTransportError("load queue", err).WithAddress(address)
		}
		if err := fn(l, b.now()); err != nil {
			return err
		}
		if err := saveLedger(dir, l); err != nil {
			return errors.NewTransportError("save queue", err).WithAddress(address)
		}
		return nil
	})
}

func (b *Broker) read(address string, fn func(*queue.Ledger, time.Time)) error {
	return b.locked(address, func(dir string) error {
		l, err := loadLedger(dir)
		if err != nil {
			return errors.NewTransportError("load queue", err).WithAddress(address)
		}
		fn(l, b.now())
		return nil
	})
}

func (b *Broker) locked(address string, fn func(dir string) error) error {
	if err := validName(address); err != nil {
		return err
	}
	dir := b.dir(address)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return queue.NotFound(address)
	}
	fl := newFileLock(dir)
	if err := fl.lock(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return queue.NotFound(address)
		}
		return errors.NewTransportError("lock queue", err).WithAddress(address)
	}
	defer func() { _ = fl.unlock() }()

	// The queue may have been deleted while we waited for the lock.
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return queue.NotFound(address)
	}
	return fn(dir)
}

// watch returns a watcher on the queue directory, or nil when one cannot be
// set up; callers then fall back to periodic re-checks.
func (b *Broker) watch(address string) *fsnotify.Watcher {
	if validName(address) != nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil
	}
	if err := w.Add(b.dir(address)); err != nil {
		_ = w.Close()
		return nil
	}
	return w
}

// wait blocks until the state file changes, d elapses or ctx is done.
func (b *Broker) wait(ctx context.Context, w *fsnotify.Watcher, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if w != nil {
		events, errs = w.Events, w.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) != stateFileName {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			return nil
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
		}
	}
}

func (b *Broker) dir(name string) string {
	return filepath.Join(b.root, name)
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return errors.NewValidationError("invalid queue name").WithField("name").WithValue(name)
	}
	return nil
}
