package scaling

import "testing"

func TestNewPolicy_Defaults(t *testing.T) {
	p := NewPolicy()
	if p.MaxWorkers() != DefaultMaxWorkers {
		t.Errorf("MaxWorkers() = %d, want %d", p.MaxWorkers(), DefaultMaxWorkers)
	}
}

func TestNewPolicy_Options(t *testing.T) {
	if got := NewPolicy(WithMaxWorkers(16)).MaxWorkers(); got != 16 {
		t.Errorf("MaxWorkers() = %d, want 16", got)
	}
	if got := NewPolicy(WithMaxWorkers(0)).MaxWorkers(); got != DefaultMaxWorkers {
		t.Errorf("WithMaxWorkers(0) should be ignored, got %d", got)
	}
}

func TestDesiredWorkers(t *testing.T) {
	tests := []struct {
		units, n, want int
	}{
		{0, 5, 0},
		{41, 5, 8},
		{10, 5, 2},
		{9, 5, 1},
		{4, 5, 0},
		{10, 0, 0},
		{10, -1, 0},
	}
	for _, tt := range tests {
		if got := DesiredWorkers(tt.units, tt.n); got != tt.want {
			t.Errorf("DesiredWorkers(%d, %d) = %d, want %d", tt.units, tt.n, got, tt.want)
		}
	}
}

func TestPolicy_Evaluate(t *testing.T) {
	tests := []struct {
		name       string
		current    int
		units, n   int
		wantAction Action
		wantDelta  int
	}{
		{"no units", 0, 0, 5, ActionNone, 0},
		{"above cap requests up to cap", 0, 41, 5, ActionScaleUp, 8},
		{"above cap with some running", 3, 41, 5, ActionScaleUp, 5},
		{"at cap does nothing", 8, 100, 1, ActionNone, 0},
		{"over cap does nothing", 9, 100, 1, ActionNone, 0},
		{"within cap from zero", 0, 10, 5, ActionScaleUp, 2},
		{"within cap tops up", 1, 10, 5, ActionScaleUp, 1},
		{"within cap already satisfied", 2, 10, 5, ActionNone, 0},
		{"within cap more than enough", 5, 10, 5, ActionNone, 0},
		{"exactly cap desired", 0, 40, 5, ActionScaleUp, 8},
	}

	p := NewPolicy()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Evaluate(tt.current, tt.units, tt.n)
			if d.Action != tt.wantAction || d.Delta != tt.wantDelta {
				t.Errorf("Evaluate(%d, %d, %d) = %s/%d, want %s/%d (%s)",
					tt.current, tt.units, tt.n, d.Action, d.Delta, tt.wantAction, tt.wantDelta, d.Reason)
			}
			if d.Reason == "" {
				t.Error("Reason should not be empty")
			}
		})
	}
}

func TestAction_String(t *testing.T) {
	if ActionScaleUp.String() != "scale_up" || ActionNone.String() != "none" {
		t.Errorf("unexpected action strings: %s, %s", ActionScaleUp, ActionNone)
	}
}
