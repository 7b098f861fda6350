package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a "category.action" identifier.
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// -----------------------------------------------------------------------------
// Job Lifecycle Events
// -----------------------------------------------------------------------------

// JobAcceptedEvent is emitted when the dispatcher registers a job in the
// job table, before any unit is sent.
type JobAcceptedEvent struct {
	baseEvent
	ReplyAddress string
	Bucket       string
	Key          string
	BatchSize    int
	Terminate    bool
}

// NewJobAcceptedEvent creates a JobAcceptedEvent.
func NewJobAcceptedEvent(replyAddress, bucket, key string, batchSize int, terminate bool) JobAcceptedEvent {
	return JobAcceptedEvent{
		baseEvent:    newBaseEvent("job.accepted"),
		ReplyAddress: replyAddress,
		Bucket:       bucket,
		Key:          key,
		BatchSize:    batchSize,
		Terminate:    terminate,
	}
}

// JobSealedEvent is emitted once the dispatcher has read the whole input
// blob and announced the job's final unit count.
type JobSealedEvent struct {
	baseEvent
	ReplyAddress string
	Units        int
	Skipped      int // records skipped as malformed
}

// NewJobSealedEvent creates a JobSealedEvent.
func NewJobSealedEvent(replyAddress string, units, skipped int) JobSealedEvent {
	return JobSealedEvent{
		baseEvent:    newBaseEvent("job.sealed"),
		ReplyAddress: replyAddress,
		Units:        units,
		Skipped:      skipped,
	}
}

// JobFinalizedEvent is emitted after a job's output was uploaded and its
// reply queue notified.
type JobFinalizedEvent struct {
	baseEvent
	ReplyAddress string
	OutputKey    string
	Units        int
}

// NewJobFinalizedEvent creates a JobFinalizedEvent.
func NewJobFinalizedEvent(replyAddress, outputKey string, units int) JobFinalizedEvent {
	return JobFinalizedEvent{
		baseEvent:    newBaseEvent("job.finalized"),
		ReplyAddress: replyAddress,
		OutputKey:    outputKey,
		Units:        units,
	}
}

// DuplicateResultEvent is emitted when the aggregator drops a result that
// was already counted, or that belongs to a job no longer in the table.
type DuplicateResultEvent struct {
	baseEvent
	ReplyAddress string
	UnitID       string
	Reason       string
}

// NewDuplicateResultEvent creates a DuplicateResultEvent.
func NewDuplicateResultEvent(replyAddress, unitID, reason string) DuplicateResultEvent {
	return DuplicateResultEvent{
		baseEvent:    newBaseEvent("result.duplicate"),
		ReplyAddress: replyAddress,
		UnitID:       unitID,
		Reason:       reason,
	}
}

// -----------------------------------------------------------------------------
// Fleet Events
// -----------------------------------------------------------------------------

// ScalingDecisionEvent is emitted when the autoscaler evaluates a dispatched
// job against the running fleet.
type ScalingDecisionEvent struct {
	baseEvent
	Action           string
	Delta            int
	Reason           string
	CurrentInstances int
}

// NewScalingDecisionEvent creates a ScalingDecisionEvent.
func NewScalingDecisionEvent(action string, delta int, reason string, current int) ScalingDecisionEvent {
	return ScalingDecisionEvent{
		baseEvent:        newBaseEvent("scaling.decision"),
		Action:           action,
		Delta:            delta,
		Reason:           reason,
		CurrentInstances: current,
	}
}

// PhaseChangedEvent is emitted on every coordinator termination-state
// transition (running, draining, terminating, stopped).
type PhaseChangedEvent struct {
	baseEvent
	From string
	To   string
}

// NewPhaseChangedEvent creates a PhaseChangedEvent.
func NewPhaseChangedEvent(from, to string) PhaseChangedEvent {
	return PhaseChangedEvent{
		baseEvent: newBaseEvent("coordinator.phase_changed"),
		From:      from,
		To:        to,
	}
}

// WorkerTerminatingEvent is emitted by a worker that received the
// terminate sentinel.
type WorkerTerminatingEvent struct {
	baseEvent
	InstanceID string
}

// NewWorkerTerminatingEvent creates a WorkerTerminatingEvent.
func NewWorkerTerminatingEvent(instanceID string) WorkerTerminatingEvent {
	return WorkerTerminatingEvent{
		baseEvent:  newBaseEvent("worker.terminating"),
		InstanceID: instanceID,
	}
}
