package scaling

// Action represents a scaling decision action.
type Action string

const (
	// ActionScaleUp indicates more workers should be created.
	ActionScaleUp Action = "scale_up"

	// ActionNone indicates no scaling change is needed.
	ActionNone Action = "none"
)

// String returns the string representation of the action.
func (a Action) String() string {
	return string(a)
}

// Decision is the result of evaluating the policy after a dispatch.
type Decision struct {
	// Action is the recommended scaling action.
	Action Action

	// Delta is the number of workers to create. Zero when Action is ActionNone.
	Delta int

	// Reason is a human-readable explanation of the decision.
	Reason string
}
