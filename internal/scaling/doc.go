// Package scaling grows the worker fleet in proportion to dispatched work.
//
// After each job is dispatched the coordinator asks the [Autoscaler] to
// reconcile the fleet. The autoscaler reads the running worker count,
// applies the [Policy] and requests the difference from the fleet
// provisioner. The fleet never shrinks here; workers leave only through
// the terminate broadcast.
//
// The core types are:
//
//   - [Policy]: desired = floor(units / n), bounded by a hard cap
//   - [Autoscaler]: serializes read-then-create under the worker-count lock
//   - [Decision]: the output of policy evaluation, scale up or hold
//
// # Usage
//
//	policy := scaling.NewPolicy(scaling.WithMaxWorkers(8))
//	as := scaling.NewAutoscaler(policy, fleet, "worker",
//	    scaling.WithLock(&state.WorkerMu),
//	    scaling.WithBus(bus),
//	)
//	as.Reconcile(ctx, units, n)
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package scaling
