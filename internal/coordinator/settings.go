package coordinator

import (
	"time"

	"github.com/Iron-Ham/fanout/internal/config"
)

// Settings holds the coordinator's queue names, buckets and timings.
type Settings struct {
	SubmissionQueue string
	DispatchQueue   string
	ResultsQueue    string
	InputBucket     string
	OutputBucket    string
	WorkDir         string

	PollBackoff     time.Duration
	IntakeTick      time.Duration
	SubmissionLease time.Duration
	ResultBatchSize int
	ResultLease     time.Duration
	DrainDelay      time.Duration

	LeaseInitialDelay time.Duration
	LeaseInterval     time.Duration

	WorkerRole string
	MaxWorkers int
}

// SettingsFromConfig extracts the coordinator settings from cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		SubmissionQueue:   cfg.Queues.Submission,
		DispatchQueue:     cfg.Queues.Dispatch,
		ResultsQueue:      cfg.Queues.Results,
		InputBucket:       cfg.Blob.InputBucket,
		OutputBucket:      cfg.Blob.OutputBucket,
		WorkDir:           cfg.Coordinator.WorkDir,
		PollBackoff:       cfg.Coordinator.PollBackoff,
		IntakeTick:        cfg.Coordinator.IntakeTick,
		SubmissionLease:   cfg.Coordinator.SubmissionLease,
		ResultBatchSize:   cfg.Coordinator.ResultBatchSize,
		ResultLease:       cfg.Coordinator.ResultLease,
		DrainDelay:        cfg.Coordinator.DrainDelay,
		LeaseInitialDelay: cfg.Lease.InitialDelay,
		LeaseInterval:     cfg.Lease.CoordinatorInterval,
		WorkerRole:        cfg.Fleet.Role,
		MaxWorkers:        cfg.Scaling.MaxWorkers,
	}
}

// DefaultSettings returns the settings of the default configuration.
func DefaultSettings() Settings {
	return SettingsFromConfig(config.Default())
}

// Addresses are the queue addresses resolved at startup.
type Addresses struct {
	Submission string
	Dispatch   string
	Results    string
}
