// Package event provides a pub-sub event bus for decoupled communication
// between fanout components.
//
// The coordinator's loops (intake, dispatcher, aggregator, autoscaler) publish
// lifecycle events; observers such as the job journal and the process logger
// subscribe without the loops knowing who listens.
//
// # Event Types
//
// Event types follow the pattern "category.action":
//   - job.accepted, job.sealed, job.finalized
//   - result.duplicate
//   - scaling.decision
//   - coordinator.phase_changed
//   - worker.terminating
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers are called synchronously on the
// publishing goroutine and are protected against panics: a panicking handler
// does not prevent other handlers from being called.
//
// # Basic Usage
//
//	bus := event.NewBus()
//	bus.Subscribe("job.finalized", func(e event.Event) {
//	    done := e.(event.JobFinalizedEvent)
//	    fmt.Println(done.ReplyAddress, done.OutputKey)
//	})
//	bus.Publish(event.NewJobFinalizedEvent("reply-1", "answer-0.txt", 4))
package event
