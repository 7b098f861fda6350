package coordinator

import (
	"context"
	"time"

	"github.com/Iron-Ham/fanout/internal/fleet"
	"github.com/Iron-Ham/fanout/internal/logging"
	"github.com/Iron-Ham/fanout/internal/protocol"
	"github.com/Iron-Ham/fanout/internal/queue"
)

// Terminator drives the draining -> terminating -> stopped transitions.
type Terminator struct {
	queue    queue.Queue
	dispatch string
	fleet    fleet.Provisioner
	role     string
	state    *State
	drain    time.Duration
	logger   *logging.Logger
}

// Ready reports whether the terminate flag is set and nothing is left to
// process.
func (t *Terminator) Ready() bool {
	return t.state.Drained()
}

// Broadcast sends one terminate sentinel per running worker. Only the
// first call does anything; it reports whether this call sent the
// broadcast. A failure to count the fleet leaves the broadcast for a later
// call.
func (t *Terminator) Broadcast(ctx context.Context) (int, bool) {
	t.state.WorkerMu.Lock()
	defer t.state.WorkerMu.Unlock()
	if t.state.broadcasted {
		return 0, false
	}

	count, err := t.fleet.CountRunning(ctx, t.role)
	if err != nil {
		t.logger.Error("count workers for terminate broadcast failed", "error", err)
		return 0, false
	}
	body, attrs := protocol.TerminateMessage()
	for range count {
		if err := t.queue.Send(ctx, t.dispatch, body, attrs); err != nil {
			t.logger.Warn("send terminate sentinel failed", "error", err)
		}
	}
	t.state.broadcasted = true
	t.logger.Info("terminate broadcast sent", "workers", count)
	t.state.advance(PhaseDraining, PhaseTerminating)
	return count, true
}

// MaybeTerminate runs the termination sequence if it is due. It returns
// true once the coordinator has stopped and the caller should exit.
func (t *Terminator) MaybeTerminate(ctx context.Context) bool {
	if !t.Ready() {
		return false
	}
	if _, first := t.Broadcast(ctx); !first {
		return t.state.Phase() >= PhaseTerminating
	}
	t.logger.Info("waiting for workers to drain", "delay", t.drain)
	queue.Backoff(ctx, t.drain)
	t.state.advance(PhaseTerminating, PhaseStopped)
	return true
}
