package fleet

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/fanout/internal/errors"
	"github.com/Iron-Ham/fanout/internal/logging"
)

// RunFunc runs one worker loop until it terminates itself or ctx is done.
type RunFunc func(ctx context.Context, instanceID string, self SelfTerminator) error

// GoroutineFleet runs workers as goroutines in the current process.
type GoroutineFleet struct {
	base   context.Context
	run    RunFunc
	logger *logging.Logger

	mu        sync.Mutex
	instances map[string]*goInstance
	created   int
	wg        conc.WaitGroup
}

type goInstance struct {
	role   string
	cancel context.CancelFunc
}

// NewGoroutineFleet creates a fleet whose workers live until base is done or
// they terminate themselves.
func NewGoroutineFleet(base context.Context, run RunFunc, logger *logging.Logger) *GoroutineFleet {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &GoroutineFleet{
		base:      base,
		run:       run,
		logger:    logger.WithComponent("fleet"),
		instances: make(map[string]*goInstance),
	}
}

var _ Provisioner = (*GoroutineFleet)(nil)

// CreateInstances starts count worker goroutines.
func (f *GoroutineFleet) CreateInstances(_ context.Context, count int, role string) error {
	if count < 0 {
		return errors.NewValidationError("instance count must not be negative").WithField("count").WithValue(count)
	}
	if err := f.base.Err(); err != nil {
		return errors.NewTransportError("create instances", err)
	}
	for range count {
		id := NewInstanceID()
		ctx, cancel := context.WithCancel(f.base)
		inst := &goInstance{role: role, cancel: cancel}

		f.mu.Lock()
		f.instances[id] = inst
		f.created++
		f.mu.Unlock()

		self := &goroutineSelf{fleet: f, id: id}
		f.wg.Go(func() {
			defer f.remove(id)
			if err := f.run(ctx, id, self); err != nil && !errors.Is(err, context.Canceled) {
				f.logger.Warn("worker exited with error", "worker_id", id, "error", err)
			}
		})
		f.logger.Info("worker started", "worker_id", id, "role", role)
	}
	return nil
}

// CountRunning returns the number of live workers tagged role. A worker
// stops counting as soon as it terminates itself.
func (f *GoroutineFleet) CountRunning(_ context.Context, role string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, inst := range f.instances {
		if inst.role == role {
			n++
		}
	}
	return n, nil
}

// Created returns how many workers have ever been started.
func (f *GoroutineFleet) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// Wait blocks until every worker goroutine has returned.
func (f *GoroutineFleet) Wait() {
	f.wg.Wait()
}

// Shutdown cancels every worker and waits for them.
func (f *GoroutineFleet) Shutdown() {
	f.mu.Lock()
	for _, inst := range f.instances {
		inst.cancel()
	}
	f.mu.Unlock()
	f.wg.Wait()
}

func (f *GoroutineFleet) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inst, ok := f.instances[id]; ok {
		inst.cancel()
		delete(f.instances, id)
	}
}

type goroutineSelf struct {
	fleet *GoroutineFleet
	id    string
}

// TerminateSelf removes the worker from the fleet and cancels its context.
func (s *goroutineSelf) TerminateSelf(context.Context) error {
	s.fleet.logger.Info("worker terminating itself", "worker_id", s.id)
	s.fleet.remove(s.id)
	return nil
}
