package scaling

import "fmt"

// DefaultMaxWorkers is the hard cap on running workers.
const DefaultMaxWorkers = 8

// Option configures a Policy.
type Option func(*Policy)

// WithMaxWorkers sets the hard cap on running workers. Values below 1 are
// ignored.
func WithMaxWorkers(n int) Option {
	return func(p *Policy) {
		if n >= 1 {
			p.maxWorkers = n
		}
	}
}

// Policy decides how many workers to add after a job is dispatched. It is
// a pure function of its inputs and safe for concurrent use.
type Policy struct {
	maxWorkers int
}

// NewPolicy creates a Policy with the given options.
func NewPolicy(opts ...Option) *Policy {
	p := &Policy{maxWorkers: DefaultMaxWorkers}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxWorkers returns the cap.
func (p *Policy) MaxWorkers() int { return p.maxWorkers }

// DesiredWorkers is floor(units / n): one worker per n units, rounded down.
// A non-positive n desires no workers.
func DesiredWorkers(units, n int) int {
	if n <= 0 || units <= 0 {
		return 0
	}
	return units / n
}

// Evaluate decides how many workers to create given current running
// workers, the units just dispatched and the job's batch size n:
//   - at or above the cap: nothing;
//   - desired within the cap and above current: desired - current;
//   - desired above the cap: cap - current.
func (p *Policy) Evaluate(current, units, n int) Decision {
	desired := DesiredWorkers(units, n)
	limit := p.maxWorkers

	switch {
	case current >= limit:
		return Decision{
			Action: ActionNone,
			Reason: fmt.Sprintf("%d workers running, at cap %d", current, limit),
		}
	case desired > limit:
		return Decision{
			Action: ActionScaleUp,
			Delta:  limit - current,
			Reason: fmt.Sprintf("%d units / n=%d wants %d workers, capped at %d", units, n, desired, limit),
		}
	case desired > current:
		return Decision{
			Action: ActionScaleUp,
			Delta:  desired - current,
			Reason: fmt.Sprintf("%d units / n=%d wants %d workers, %d running", units, n, desired, current),
		}
	default:
		return Decision{
			Action: ActionNone,
			Reason: fmt.Sprintf("%d units / n=%d wants %d workers, %d running", units, n, desired, current),
		}
	}
}
