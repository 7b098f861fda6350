package queue

import (
	"context"
	"time"

	"github.com/Iron-Ham/fanout/internal/errors"
)

// Attribute keys carried on messages between the client, the coordinator
// and workers.
const (
	AttrReplyAddress = "reply-address"
	AttrRating       = "rating"
	AttrLink         = "link"
	AttrUnitID       = "unit-id"
	AttrTerminate    = "terminate"
	AttrBatchSize    = "n"
	AttrBucket       = "bucket"
	AttrKey          = "key"
)

// Attributes is the string-keyed metadata attached to a message.
type Attributes map[string]string

// Require returns the value for key, or a DataError wrapping
// ErrMissingAttribute when the key is absent or empty.
func (a Attributes) Require(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == "" {
		return "", errors.NewDataError("attribute "+key+" missing", errors.ErrMissingAttribute).WithField(key)
	}
	return v, nil
}

// Clone returns a copy that can be mutated without affecting a.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Message is one delivery of a queued message. Token identifies this
// delivery; it is required to extend the lease or delete the message and
// is invalidated once the message is redelivered.
type Message struct {
	ID           string
	Body         string
	Attributes   Attributes
	Token        string
	ReceiveCount int
}

// ReceiveOptions controls a single Receive call.
type ReceiveOptions struct {
	// MaxMessages caps the batch size. Values < 1 mean 1.
	MaxMessages int
	// Wait is the long-poll window; Receive returns as soon as at least one
	// message is available or the window elapses. Zero polls once.
	Wait time.Duration
	// Lease is how long received messages stay invisible to other consumers.
	Lease time.Duration
}

// Queue is the message-queue collaborator. Delivery is at-least-once with
// no ordering guarantee.
type Queue interface {
	// Create makes the named queue if needed and returns its address.
	Create(ctx context.Context, name string) (string, error)
	// Send enqueues a message.
	Send(ctx context.Context, address, body string, attrs Attributes) error
	// Receive leases up to opts.MaxMessages visible messages.
	Receive(ctx context.Context, address string, opts ReceiveOptions) ([]Message, error)
	// ExtendLease pushes the message's deadline to at least now+lease. It
	// never shortens an existing lease.
	ExtendLease(ctx context.Context, address, token string, lease time.Duration) error
	// Delete acknowledges a message.
	Delete(ctx context.Context, address, token string) error
	// DeleteQueue removes a queue and everything in it.
	DeleteQueue(ctx context.Context, address string) error
}

// NotFound builds the error brokers return for an unknown address.
func NotFound(address string) error {
	return errors.NewNotFoundError("queue", address).WithCause(errors.ErrQueueNotFound)
}
