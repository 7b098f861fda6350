package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete fanout configuration
type Config struct {
	Queues      QueuesConfig      `mapstructure:"queues" yaml:"queues"`
	Blob        BlobConfig        `mapstructure:"blob" yaml:"blob"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator" yaml:"coordinator"`
	Worker      WorkerConfig      `mapstructure:"worker" yaml:"worker"`
	Lease       LeaseConfig       `mapstructure:"lease" yaml:"lease"`
	Scaling     ScalingConfig     `mapstructure:"scaling" yaml:"scaling"`
	Fleet       FleetConfig       `mapstructure:"fleet" yaml:"fleet"`
	Client      ClientConfig      `mapstructure:"client" yaml:"client"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// QueuesConfig selects the queue backend and names the shared queues
type QueuesConfig struct {
	// Backend is "dir" (file-backed, shared between processes) or "memory"
	// (single process only; used by `fanout run`).
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Root is the directory holding one subdirectory per queue (dir backend)
	Root string `mapstructure:"root" yaml:"root"`
	// Submission is the queue clients send job requests to
	Submission string `mapstructure:"submission" yaml:"submission"`
	// Dispatch is the queue the coordinator sends units of work to
	Dispatch string `mapstructure:"dispatch" yaml:"dispatch"`
	// Results is the queue workers send results to
	Results string `mapstructure:"results" yaml:"results"`
}

// BlobConfig controls the blob store
type BlobConfig struct {
	// Root is the base directory; each bucket is a subdirectory
	Root string `mapstructure:"root" yaml:"root"`
	// InputBucket receives client input blobs
	InputBucket string `mapstructure:"input_bucket" yaml:"input_bucket"`
	// OutputBucket receives finalized job outputs
	OutputBucket string `mapstructure:"output_bucket" yaml:"output_bucket"`
}

// CoordinatorConfig controls the coordinator loops
type CoordinatorConfig struct {
	// WorkDir holds the per-job output accumulator files
	WorkDir string `mapstructure:"work_dir" yaml:"work_dir"`
	// PollBackoff is the sleep after an empty poll (intake, dispatcher, aggregator)
	PollBackoff time.Duration `mapstructure:"poll_backoff" yaml:"poll_backoff"`
	// IntakeTick is the pause between intake polls that returned messages
	IntakeTick time.Duration `mapstructure:"intake_tick" yaml:"intake_tick"`
	// SubmissionLease is the lease on received submissions; they stay
	// unacknowledged until the dispatcher has processed them
	SubmissionLease time.Duration `mapstructure:"submission_lease" yaml:"submission_lease"`
	// ResultBatchSize is the maximum number of results received per batch
	ResultBatchSize int `mapstructure:"result_batch_size" yaml:"result_batch_size"`
	// ResultLease is the lease window requested for each result batch
	ResultLease time.Duration `mapstructure:"result_lease" yaml:"result_lease"`
	// DrainDelay is the wait between the terminate broadcast and exit
	DrainDelay time.Duration `mapstructure:"drain_delay" yaml:"drain_delay"`
	// JournalPath is the sqlite job journal; empty disables the journal
	JournalPath string `mapstructure:"journal_path" yaml:"journal_path"`
}

// WorkerConfig controls the worker loop
type WorkerConfig struct {
	// Wait is the long-poll wait on the dispatch queue
	Wait time.Duration `mapstructure:"wait" yaml:"wait"`
	// Lease is the lease window requested for each unit
	Lease time.Duration `mapstructure:"lease" yaml:"lease"`
	// PollBackoff is the sleep after an empty poll
	PollBackoff time.Duration `mapstructure:"poll_backoff" yaml:"poll_backoff"`
	// DrainDelay is the wait between receiving the terminate sentinel and self-shutdown
	DrainDelay time.Duration `mapstructure:"drain_delay" yaml:"drain_delay"`
}

// LeaseConfig controls the lease renewer heartbeat
type LeaseConfig struct {
	// InitialDelay is the delay before the first extension
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	// CoordinatorInterval is the extension period for aggregator batches
	CoordinatorInterval time.Duration `mapstructure:"coordinator_interval" yaml:"coordinator_interval"`
	// WorkerInterval is the extension period for a worker's unit
	WorkerInterval time.Duration `mapstructure:"worker_interval" yaml:"worker_interval"`
}

// ScalingConfig controls the autoscaler
type ScalingConfig struct {
	// MaxWorkers is the hard cap on running workers
	MaxWorkers int `mapstructure:"max_workers" yaml:"max_workers"`
}

// FleetConfig controls how worker instances are provisioned
type FleetConfig struct {
	// Mode is "process" (child processes) or "inprocess" (goroutines)
	Mode string `mapstructure:"mode" yaml:"mode"`
	// WorkerBinary is the executable launched for process mode; empty means this binary
	WorkerBinary string `mapstructure:"worker_binary" yaml:"worker_binary"`
	// Role is the role tag applied to worker instances
	Role string `mapstructure:"role" yaml:"role"`
}

// ClientConfig controls the submitting client
type ClientConfig struct {
	// ReplyWait is the long-poll wait on the client's reply queue
	ReplyWait time.Duration `mapstructure:"reply_wait" yaml:"reply_wait"`
	// PollBackoff is the sleep after a failed poll of the reply queue
	PollBackoff time.Duration `mapstructure:"poll_backoff" yaml:"poll_backoff"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error"
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is the log directory; empty logs to stderr
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxSizeMB is the size at which the log file is rotated
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files kept
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated files
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	data := DataDir()
	return &Config{
		Queues: QueuesConfig{
			Backend:    "dir",
			Root:       filepath.Join(data, "queues"),
			Submission: "fanout-submissions",
			Dispatch:   "fanout-dispatch",
			Results:    "fanout-results",
		},
		Blob: BlobConfig{
			Root:         filepath.Join(data, "blobs"),
			InputBucket:  "fanout-inputs",
			OutputBucket: "fanout-answers",
		},
		Coordinator: CoordinatorConfig{
			WorkDir:         filepath.Join(data, "work"),
			PollBackoff:     2 * time.Second,
			IntakeTick:      100 * time.Millisecond,
			SubmissionLease: 10 * time.Minute,
			ResultBatchSize: 10,
			ResultLease:     20 * time.Second,
			DrainDelay:      5 * time.Second,
			JournalPath:     filepath.Join(data, "journal.db"),
		},
		Worker: WorkerConfig{
			Wait:        20 * time.Second,
			Lease:       20 * time.Second,
			PollBackoff: time.Second,
			DrainDelay:  10 * time.Second,
		},
		Lease: LeaseConfig{
			InitialDelay:        100 * time.Millisecond,
			CoordinatorInterval: 15 * time.Second,
			WorkerInterval:      10 * time.Second,
		},
		Scaling: ScalingConfig{
			MaxWorkers: 8,
		},
		Fleet: FleetConfig{
			Mode: "process",
			Role: "worker",
		},
		Client: ClientConfig{
			ReplyWait:   20 * time.Second,
			PollBackoff: time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			Compress:   true,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	d := Default()

	viper.SetDefault("queues.backend", d.Queues.Backend)
	viper.SetDefault("queues.root", d.Queues.Root)
	viper.SetDefault("queues.submission", d.Queues.Submission)
	viper.SetDefault("queues.dispatch", d.Queues.Dispatch)
	viper.SetDefault("queues.results", d.Queues.Results)

	viper.SetDefault("blob.root", d.Blob.Root)
	viper.SetDefault("blob.input_bucket", d.Blob.InputBucket)
	viper.SetDefault("blob.output_bucket", d.Blob.OutputBucket)

	viper.SetDefault("coordinator.work_dir", d.Coordinator.WorkDir)
	viper.SetDefault("coordinator.poll_backoff", d.Coordinator.PollBackoff)
	viper.SetDefault("coordinator.intake_tick", d.Coordinator.IntakeTick)
	viper.SetDefault("coordinator.submission_lease", d.Coordinator.SubmissionLease)
	viper.SetDefault("coordinator.result_batch_size", d.Coordinator.ResultBatchSize)
	viper.SetDefault("coordinator.result_lease", d.Coordinator.ResultLease)
	viper.SetDefault("coordinator.drain_delay", d.Coordinator.DrainDelay)
	viper.SetDefault("coordinator.journal_path", d.Coordinator.JournalPath)

	viper.SetDefault("worker.wait", d.Worker.Wait)
	viper.SetDefault("worker.lease", d.Worker.Lease)
	viper.SetDefault("worker.poll_backoff", d.Worker.PollBackoff)
	viper.SetDefault("worker.drain_delay", d.Worker.DrainDelay)

	viper.SetDefault("lease.initial_delay", d.Lease.InitialDelay)
	viper.SetDefault("lease.coordinator_interval", d.Lease.CoordinatorInterval)
	viper.SetDefault("lease.worker_interval", d.Lease.WorkerInterval)

	viper.SetDefault("scaling.max_workers", d.Scaling.MaxWorkers)

	viper.SetDefault("fleet.mode", d.Fleet.Mode)
	viper.SetDefault("fleet.worker_binary", d.Fleet.WorkerBinary)
	viper.SetDefault("fleet.role", d.Fleet.Role)

	viper.SetDefault("client.reply_wait", d.Client.ReplyWait)
	viper.SetDefault("client.poll_backoff", d.Client.PollBackoff)

	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.dir", d.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	viper.SetDefault("logging.compress", d.Logging.Compress)
}

// Load reads the configuration from viper and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults if the
// loaded configuration is invalid
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "fanout")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fanout"
	}
	return filepath.Join(home, ".config", "fanout")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns the default root for queues, blobs and work files
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "fanout")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fanout"
	}
	return filepath.Join(home, ".local", "share", "fanout")
}
