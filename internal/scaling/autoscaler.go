package scaling

import (
	"context"
	"sync"

	"github.com/Iron-Ham/fanout/internal/event"
	"github.com/Iron-Ham/fanout/internal/fleet"
	"github.com/Iron-Ham/fanout/internal/logging"
)

// Autoscaler applies a Policy against a fleet.
type Autoscaler struct {
	mu     sync.Locker
	policy *Policy
	fleet  fleet.Provisioner
	role   string
	bus    *event.Bus
	logger *logging.Logger
}

// AutoscalerOption configures an Autoscaler.
type AutoscalerOption func(*Autoscaler)

// WithLock sets the worker-count lock. The coordinator shares it with the
// terminate broadcast so scale-up and shutdown never interleave.
func WithLock(l sync.Locker) AutoscalerOption {
	return func(a *Autoscaler) { a.mu = l }
}

// WithBus publishes a ScalingDecisionEvent for every evaluation.
func WithBus(b *event.Bus) AutoscalerOption {
	return func(a *Autoscaler) { a.bus = b }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) AutoscalerOption {
	return func(a *Autoscaler) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAutoscaler creates an Autoscaler that provisions workers tagged role.
func NewAutoscaler(policy *Policy, provisioner fleet.Provisioner, role string, opts ...AutoscalerOption) *Autoscaler {
	a := &Autoscaler{
		mu:     &sync.Mutex{},
		policy: policy,
		fleet:  provisioner,
		role:   role,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.WithComponent("autoscaler")
	return a
}

// Reconcile evaluates the policy for a job that produced units with batch
// size n and creates the missing workers. The lock is held from the count
// through the create request so concurrent dispatches cannot both scale to
// the cap. Fleet failures are logged and swallowed: a slower scale-up is
// preferable to failing the job.
func (a *Autoscaler) Reconcile(ctx context.Context, units, n int) Decision {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.fleet.CountRunning(ctx, a.role)
	if err != nil {
		a.logger.Warn("count running workers failed", "error", err)
		return Decision{Action: ActionNone, Reason: "count running failed: " + err.Error()}
	}

	d := a.policy.Evaluate(current, units, n)
	a.bus.Publish(event.NewScalingDecisionEvent(d.Action.String(), d.Delta, d.Reason, current))

	if d.Action != ActionScaleUp || d.Delta <= 0 {
		a.logger.Debug("no scaling needed", "current", current, "units", units, "n", n, "reason", d.Reason)
		return d
	}

	a.logger.Info("scaling up", "current", current, "delta", d.Delta, "reason", d.Reason)
	if err := a.fleet.CreateInstances(ctx, d.Delta, a.role); err != nil {
		a.logger.Warn("create workers failed", "delta", d.Delta, "error", err)
	}
	return d
}
