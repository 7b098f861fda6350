// Package lease keeps in-flight queue messages leased while their owner is
// still working on them.
//
// A Renewer is started once per received batch. It extends the lease of
// every message in the batch after a short initial delay and then at a
// fixed interval, until the owner calls Complete. The owner never waits for
// the Renewer: Complete only flips a flag and signals the goroutine, which
// exits on its own without making further queue calls.
package lease

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/fanout/internal/errors"
	"github.com/Iron-Ham/fanout/internal/logging"
)

// Defaults used when no option overrides them.
const (
	DefaultInitialDelay = 100 * time.Millisecond
	DefaultInterval     = 10 * time.Second
	DefaultLease        = 20 * time.Second
)

// Extender is the part of queue.Queue the Renewer needs.
type Extender interface {
	ExtendLease(ctx context.Context, address, token string, lease time.Duration) error
}

// Renewer periodically extends the leases of a fixed set of messages.
type Renewer struct {
	ext     Extender
	address string
	tokens  []string

	initialDelay time.Duration
	interval     time.Duration
	lease        time.Duration
	logger       *logging.Logger

	completed atomic.Bool
	done      chan struct{}
	doneOnce  sync.Once
	stopped   chan struct{}
}

// Option configures a Renewer.
type Option func(*Renewer)

// WithInterval sets the period between extensions.
func WithInterval(d time.Duration) Option {
	return func(r *Renewer) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithInitialDelay sets the delay before the first extension.
func WithInitialDelay(d time.Duration) Option {
	return func(r *Renewer) {
		if d >= 0 {
			r.initialDelay = d
		}
	}
}

// WithLease sets the lease window requested on each extension.
func WithLease(d time.Duration) Option {
	return func(r *Renewer) {
		if d > 0 {
			r.lease = d
		}
	}
}

// WithLogger sets the logger for extension failures.
func WithLogger(l *logging.Logger) Option {
	return func(r *Renewer) {
		if l != nil {
			r.logger = l
		}
	}
}

// Start launches a Renewer for tokens on the queue at address. The
// goroutine also exits when ctx is cancelled.
func Start(ctx context.Context, ext Extender, address string, tokens []string, opts ...Option) *Renewer {
	r := &Renewer{
		ext:          ext,
		address:      address,
		tokens:       append([]string(nil), tokens...),
		initialDelay: DefaultInitialDelay,
		interval:     DefaultInterval,
		lease:        DefaultLease,
		logger:       logging.NopLogger(),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("lease")

	go r.run(ctx)
	return r
}

// Complete stops further extensions. It never blocks and may be called any
// number of times.
func (r *Renewer) Complete() {
	r.completed.Store(true)
	r.doneOnce.Do(func() { close(r.done) })
}

// Completed reports whether Complete has been called.
func (r *Renewer) Completed() bool {
	return r.completed.Load()
}

// Stopped is closed once the background goroutine has exited.
func (r *Renewer) Stopped() <-chan struct{} {
	return r.stopped
}

func (r *Renewer) run(ctx context.Context) {
	defer close(r.stopped)

	timer := time.NewTimer(r.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-timer.C:
		}

		r.extendAll(ctx)
		timer.Reset(r.interval)
	}
}

func (r *Renewer) extendAll(ctx context.Context) {
	for _, tok := range r.tokens {
		// Checked per message so a Complete during a slow batch stops the
		// remaining calls.
		if r.completed.Load() {
			return
		}
		err := r.ext.ExtendLease(ctx, r.address, tok, r.lease)
		switch {
		case err == nil:
		case errors.Is(err, errors.ErrUnknownToken):
			// Already deleted by the owner; nothing left to protect.
			r.logger.Debug("lease extension skipped", "address", r.address, "error", err)
		default:
			r.logger.Warn("lease extension failed", "address", r.address, "error", err)
		}
	}
}
