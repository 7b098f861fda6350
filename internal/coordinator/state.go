package coordinator

import (
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/fanout/internal/event"
	"github.com/Iron-Ham/fanout/internal/logging"
	"github.com/Iron-Ham/fanout/internal/queue"
)

// Phase is the coordinator's position in the termination protocol.
type Phase int32

const (
	// PhaseRunning accepts and processes jobs normally.
	PhaseRunning Phase = iota
	// PhaseDraining has seen a terminate marker; outstanding jobs finish.
	PhaseDraining
	// PhaseTerminating has broadcast the terminate sentinel to the fleet.
	PhaseTerminating
	// PhaseStopped has waited out the drain delay; all loops exit.
	PhaseStopped
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseDraining:
		return "draining"
	case PhaseTerminating:
		return "terminating"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// State is the coordinator's per-process context object. It is created
// once at startup and shared by every component.
type State struct {
	// WorkerMu is the worker-count lock. It guards the autoscaler's
	// count-then-create sequence and the terminate broadcast.
	WorkerMu sync.Mutex

	jobs     *JobTable
	requests *RequestQueue
	outputs  *Accumulator

	terminate   atomic.Bool
	broadcasted bool // guarded by WorkerMu

	// admitMu orders intake pushes against the drain check, so no
	// submission is queued once the coordinator has been found drained.
	admitMu sync.Mutex

	// resultMu makes the check, append and resolve of one result atomic
	// with respect to any other result.
	resultMu sync.Mutex

	phaseMu sync.Mutex
	phase   Phase

	bus    *event.Bus
	logger *logging.Logger
}

// NewState creates the shared state around the output accumulator.
func NewState(outputs *Accumulator, bus *event.Bus, logger *logging.Logger) *State {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &State{
		jobs:     NewJobTable(),
		requests: NewRequestQueue(),
		outputs:  outputs,
		bus:      bus,
		logger:   logger,
	}
}

// Jobs returns the job table.
func (s *State) Jobs() *JobTable { return s.jobs }

// Requests returns the request FIFO.
func (s *State) Requests() *RequestQueue { return s.requests }

// Outputs returns the output accumulator.
func (s *State) Outputs() *Accumulator { return s.outputs }

// RequestTerminate sets the global terminate flag and moves a running
// coordinator to draining.
func (s *State) RequestTerminate() {
	if s.terminate.Swap(true) {
		return
	}
	s.logger.Info("terminate requested")
	s.advance(PhaseRunning, PhaseDraining)
}

// TerminateRequested reports whether the terminate flag is set.
func (s *State) TerminateRequested() bool {
	return s.terminate.Load()
}

// Idle reports whether no job is tracked and no request is pending.
func (s *State) Idle() bool {
	return s.jobs.Len() == 0 && s.requests.Pending() == 0
}

// Admit pushes a received submission onto the request FIFO unless the
// terminate flag is set. queued is false for a redelivery of a submission
// that is already pending.
func (s *State) Admit(msg queue.Message) (admitted, queued bool) {
	s.admitMu.Lock()
	defer s.admitMu.Unlock()
	if s.terminate.Load() {
		return false, false
	}
	return true, s.requests.Push(msg)
}

// Drained reports whether the terminate flag is set and nothing is left to
// process. Once it has returned true, Admit refuses every submission.
func (s *State) Drained() bool {
	s.admitMu.Lock()
	defer s.admitMu.Unlock()
	return s.terminate.Load() && s.Idle()
}

// Phase returns the current phase.
func (s *State) Phase() Phase {
	s.phaseMu.Lock()
	defer s.phaseMu.Unlock()
	return s.phase
}

// advance moves from one phase to the next. It is a no-op unless the
// coordinator is currently in from.
func (s *State) advance(from, to Phase) bool {
	s.phaseMu.Lock()
	if s.phase != from {
		s.phaseMu.Unlock()
		return false
	}
	s.phase = to
	s.phaseMu.Unlock()

	s.logger.Info("phase changed", "from", from.String(), "to", to.String())
	s.bus.Publish(event.NewPhaseChangedEvent(from.String(), to.String()))
	return true
}
