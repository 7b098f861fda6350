// Package fleet provisions worker instances for the coordinator.
//
// Two provisioners are provided. [ProcessFleet] launches each worker as a
// child `fanout worker` process; it is the deployment used when the
// coordinator runs on its own. [GoroutineFleet] runs each worker loop as a
// goroutine inside the coordinator process, which `fanout run` and the
// end-to-end tests use.
//
// Workers leave the fleet on their own, after receiving the terminate
// sentinel, by calling their [SelfTerminator].
package fleet

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Provisioner creates and counts worker instances by role tag.
type Provisioner interface {
	// CreateInstances starts count new instances tagged role. It returns
	// once the instances have been requested, not when they are ready.
	CreateInstances(ctx context.Context, count int, role string) error
	// CountRunning returns the number of live instances tagged role.
	CountRunning(ctx context.Context, role string) (int, error)
}

// SelfTerminator shuts down the instance hosting the caller.
type SelfTerminator interface {
	TerminateSelf(ctx context.Context) error
}

// NewInstanceID returns a short unique worker identifier.
func NewInstanceID() string {
	return "worker-" + uuid.NewString()[:8]
}

// CancelSelf is a SelfTerminator that cancels the context hosting a worker
// process. The worker's Run returns once the context is done.
type CancelSelf struct {
	cancel context.CancelFunc
	once   sync.Once
}

// NewCancelSelf wraps cancel.
func NewCancelSelf(cancel context.CancelFunc) *CancelSelf {
	return &CancelSelf{cancel: cancel}
}

// TerminateSelf cancels the hosting context. Repeated calls are no-ops.
func (c *CancelSelf) TerminateSelf(context.Context) error {
	c.once.Do(c.cancel)
	return nil
}
