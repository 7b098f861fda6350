package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTransportError(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := NewTransportError("receive", cause).WithAddress("fanout-results")

	if !err.IsRetryable() {
		t.Error("transport errors should be retryable")
	}
	want := "transport error [op=receive, address=fanout-results]: receive failed: connection reset"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, &TransportError{}) {
		t.Error("Is(*TransportError) = false")
	}
	if !Is(err, cause) {
		t.Error("Is(cause) = false")
	}
	if !IsTransport(Wrap(err, "poll")) {
		t.Error("IsTransport should see through wrapping")
	}
}

func TestDataError(t *testing.T) {
	err := NewDataError("bad rating", ErrMalformedRecord).
		WithField("rating").
		WithRecord(strings.Repeat("x", 200))

	if err.IsRetryable() {
		t.Error("data errors should not be retryable")
	}
	if !Is(err, ErrMalformedRecord) {
		t.Error("Is(ErrMalformedRecord) = false")
	}
	if len(err.Record) != 83 {
		t.Errorf("record excerpt length = %d, want 83", len(err.Record))
	}
	if !strings.HasPrefix(err.Error(), "data error [field=rating, record=") {
		t.Errorf("unexpected Error(): %s", err.Error())
	}
	if !IsData(err) || IsState(err) {
		t.Error("classification mismatch for DataError")
	}
}

func TestStateError(t *testing.T) {
	err := NewStateError("cannot allocate output", ErrOutputAllocation).WithJob("reply-1")

	if got := GetSeverity(err); got != SeverityError {
		t.Errorf("GetSeverity() = %v, want error", got)
	}
	if got := GetSeverity(err.WithSeverity(SeverityCritical)); got != SeverityCritical {
		t.Errorf("GetSeverity() = %v, want critical", got)
	}
	want := "state error [job=reply-1]: cannot allocate output: output allocation failed"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !IsState(err) {
		t.Error("IsState() = false")
	}
}

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("blob", "answers/answer-1.txt").WithCause(ErrBlobNotFound)
	if !Is(err, ErrBlobNotFound) {
		t.Error("Is(ErrBlobNotFound) = false")
	}
	if !Is(err, &NotFoundError{}) {
		t.Error("Is(*NotFoundError) = false")
	}
	if !strings.Contains(err.Error(), "blob 'answers/answer-1.txt' not found") {
		t.Errorf("unexpected Error(): %s", err.Error())
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("must be positive").WithField("scaling.max_workers").WithValue(0)
	if !Is(err, ErrInvalidInput) {
		t.Error("validation errors should match ErrInvalidInput")
	}
	want := "validation error [field=scaling.max_workers, value=0]: must be positive"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("waiting for reply", 20*time.Second)
	if !IsRetryable(err) {
		t.Error("timeouts should be retryable")
	}
	if !Is(err, ErrTimeout) {
		t.Error("Is(ErrTimeout) = false")
	}
	if got := err.Error(); got != "timeout error: waiting for reply (timeout: 20s)" {
		t.Errorf("Error() = %q", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("x"), false},
		{"transport", NewTransportError("send", nil), true},
		{"wrapped transport", Wrapf(NewTransportError("send", nil), "job %s", "a"), true},
		{"data", NewDataError("bad", nil), false},
		{"sentinel timeout", Wrap(ErrTimeout, "poll"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, "x") != nil || Wrapf(nil, "x %d", 1) != nil {
		t.Error("wrapping nil should return nil")
	}
}
