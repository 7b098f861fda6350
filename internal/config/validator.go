package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "scaling.max_workers")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidQueueBackends returns the list of valid queue backends
func ValidQueueBackends() []string {
	return []string{"dir", "memory"}
}

// ValidFleetModes returns the list of valid fleet modes
func ValidFleetModes() []string {
	return []string{"process", "inprocess"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateQueues()...)
	errs = append(errs, c.validateBlob()...)
	errs = append(errs, c.validateCoordinator()...)
	errs = append(errs, c.validateWorker()...)
	errs = append(errs, c.validateLease()...)
	errs = append(errs, c.validateScaling()...)
	errs = append(errs, c.validateFleet()...)
	errs = append(errs, c.validateClient()...)
	errs = append(errs, c.validateLogging()...)
	return errs
}

func oneOf(field, value string, valid []string) []ValidationError {
	if slices.Contains(valid, value) {
		return nil
	}
	return []ValidationError{{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(valid, ", ")),
	}}
}

func required(field, value string) []ValidationError {
	if strings.TrimSpace(value) != "" {
		return nil
	}
	return []ValidationError{{Field: field, Value: value, Message: "must not be empty"}}
}

func positive(field string, d time.Duration) []ValidationError {
	if d > 0 {
		return nil
	}
	return []ValidationError{{Field: field, Value: d, Message: "must be positive"}}
}

func (c *Config) validateQueues() []ValidationError {
	errs := oneOf("queues.backend", c.Queues.Backend, ValidQueueBackends())
	if c.Queues.Backend == "dir" {
		errs = append(errs, required("queues.root", c.Queues.Root)...)
	}
	errs = append(errs, required("queues.submission", c.Queues.Submission)...)
	errs = append(errs, required("queues.dispatch", c.Queues.Dispatch)...)
	errs = append(errs, required("queues.results", c.Queues.Results)...)

	names := []string{c.Queues.Submission, c.Queues.Dispatch, c.Queues.Results}
	slices.Sort(names)
	if len(slices.Compact(names)) != 3 {
		errs = append(errs, ValidationError{
			Field:   "queues",
			Value:   fmt.Sprintf("%s, %s, %s", c.Queues.Submission, c.Queues.Dispatch, c.Queues.Results),
			Message: "submission, dispatch and results queues must be distinct",
		})
	}
	return errs
}

func (c *Config) validateBlob() []ValidationError {
	errs := required("blob.root", c.Blob.Root)
	errs = append(errs, required("blob.input_bucket", c.Blob.InputBucket)...)
	errs = append(errs, required("blob.output_bucket", c.Blob.OutputBucket)...)
	return errs
}

func (c *Config) validateCoordinator() []ValidationError {
	errs := required("coordinator.work_dir", c.Coordinator.WorkDir)
	errs = append(errs, positive("coordinator.poll_backoff", c.Coordinator.PollBackoff)...)
	errs = append(errs, positive("coordinator.intake_tick", c.Coordinator.IntakeTick)...)
	errs = append(errs, positive("coordinator.result_lease", c.Coordinator.ResultLease)...)
	errs = append(errs, positive("coordinator.submission_lease", c.Coordinator.SubmissionLease)...)

	if c.Coordinator.ResultBatchSize < 1 || c.Coordinator.ResultBatchSize > 10 {
		errs = append(errs, ValidationError{
			Field:   "coordinator.result_batch_size",
			Value:   c.Coordinator.ResultBatchSize,
			Message: "must be between 1 and 10",
		})
	}
	if c.Coordinator.DrainDelay < 0 {
		errs = append(errs, ValidationError{
			Field:   "coordinator.drain_delay",
			Value:   c.Coordinator.DrainDelay,
			Message: "must be non-negative",
		})
	}
	return errs
}

func (c *Config) validateWorker() []ValidationError {
	errs := positive("worker.lease", c.Worker.Lease)
	errs = append(errs, positive("worker.poll_backoff", c.Worker.PollBackoff)...)
	if c.Worker.Wait < 0 {
		errs = append(errs, ValidationError{Field: "worker.wait", Value: c.Worker.Wait, Message: "must be non-negative"})
	}
	if c.Worker.DrainDelay < 0 {
		errs = append(errs, ValidationError{Field: "worker.drain_delay", Value: c.Worker.DrainDelay, Message: "must be non-negative"})
	}
	return errs
}

// validateLease checks that each heartbeat fires well inside the lease it
// extends; otherwise the lease lapses between extensions and the message is
// redelivered while still being processed.
func (c *Config) validateLease() []ValidationError {
	errs := positive("lease.coordinator_interval", c.Lease.CoordinatorInterval)
	errs = append(errs, positive("lease.worker_interval", c.Lease.WorkerInterval)...)

	if c.Lease.CoordinatorInterval >= c.Coordinator.ResultLease {
		errs = append(errs, ValidationError{
			Field:   "lease.coordinator_interval",
			Value:   c.Lease.CoordinatorInterval,
			Message: fmt.Sprintf("must be shorter than coordinator.result_lease (%s)", c.Coordinator.ResultLease),
		})
	}
	if c.Lease.WorkerInterval >= c.Worker.Lease {
		errs = append(errs, ValidationError{
			Field:   "lease.worker_interval",
			Value:   c.Lease.WorkerInterval,
			Message: fmt.Sprintf("must be shorter than worker.lease (%s)", c.Worker.Lease),
		})
	}
	if c.Lease.InitialDelay < 0 {
		errs = append(errs, ValidationError{Field: "lease.initial_delay", Value: c.Lease.InitialDelay, Message: "must be non-negative"})
	}
	return errs
}

func (c *Config) validateScaling() []ValidationError {
	if c.Scaling.MaxWorkers < 1 {
		return []ValidationError{{Field: "scaling.max_workers", Value: c.Scaling.MaxWorkers, Message: "must be at least 1"}}
	}
	return nil
}

func (c *Config) validateFleet() []ValidationError {
	errs := oneOf("fleet.mode", c.Fleet.Mode, ValidFleetModes())
	errs = append(errs, required("fleet.role", c.Fleet.Role)...)
	return errs
}

func (c *Config) validateClient() []ValidationError {
	return positive("client.poll_backoff", c.Client.PollBackoff)
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError
	if c.Logging.Level != "" {
		errs = append(errs, oneOf("logging.level", strings.ToLower(c.Logging.Level), ValidLogLevels())...)
	}
	if c.Logging.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{Field: "logging.max_size_mb", Value: c.Logging.MaxSizeMB, Message: "must be non-negative"})
	}
	if c.Logging.MaxBackups < 0 {
		errs = append(errs, ValidationError{Field: "logging.max_backups", Value: c.Logging.MaxBackups, Message: "must be non-negative"})
	}
	return errs
}
