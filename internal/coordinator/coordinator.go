package coordinator

import (
	"context"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/fanout/internal/blob"
	"github.com/Iron-Ham/fanout/internal/errors"
	"github.com/Iron-Ham/fanout/internal/event"
	"github.com/Iron-Ham/fanout/internal/fleet"
	"github.com/Iron-Ham/fanout/internal/logging"
	"github.com/Iron-Ham/fanout/internal/queue"
	"github.com/Iron-Ham/fanout/internal/scaling"
)

// Coordinator wires the intake, dispatcher and aggregator around one
// State.
type Coordinator struct {
	settings Settings
	queue    queue.Queue
	blobs    blob.Store
	fleet    fleet.Provisioner
	scaler   Scaler
	fs       afero.Fs
	bus      *event.Bus
	logger   *logging.Logger

	state     *State
	addresses Addresses
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBus publishes job and phase events to b.
func WithBus(b *event.Bus) Option {
	return func(c *Coordinator) { c.bus = b }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithScaler replaces the default autoscaler.
func WithScaler(s Scaler) Option {
	return func(c *Coordinator) { c.scaler = s }
}

// WithFs sets the filesystem holding output files. Defaults to the OS.
func WithFs(fs afero.Fs) Option {
	return func(c *Coordinator) {
		if fs != nil {
			c.fs = fs
		}
	}
}

// New creates a coordinator. The default scaler shares the state's
// worker-count lock with the terminate broadcast.
func New(settings Settings, q queue.Queue, blobs blob.Store, provisioner fleet.Provisioner, opts ...Option) *Coordinator {
	c := &Coordinator{
		settings: settings,
		queue:    q,
		blobs:    blobs,
		fleet:    provisioner,
		fs:       afero.NewOsFs(),
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("coordinator")
	c.state = NewState(NewAccumulator(c.fs, settings.WorkDir), c.bus, c.logger)
	if c.scaler == nil {
		c.scaler = scaling.NewAutoscaler(
			scaling.NewPolicy(scaling.WithMaxWorkers(settings.MaxWorkers)),
			provisioner, settings.WorkerRole,
			scaling.WithLock(&c.state.WorkerMu),
			scaling.WithBus(c.bus),
			scaling.WithLogger(c.logger),
		)
	}
	return c
}

// State returns the shared state.
func (c *Coordinator) State() *State { return c.state }

// Addresses returns the queue addresses resolved by Setup.
func (c *Coordinator) Addresses() Addresses { return c.addresses }

// Setup creates the queues, buckets and work directory. Any failure is
// fatal for the coordinator.
func (c *Coordinator) Setup(ctx context.Context) error {
	var err error
	if c.addresses.Submission, err = c.queue.Create(ctx, c.settings.SubmissionQueue); err != nil {
		return errors.Wrap(err, "create submission queue")
	}
	if c.addresses.Dispatch, err = c.queue.Create(ctx, c.settings.DispatchQueue); err != nil {
		return errors.Wrap(err, "create dispatch queue")
	}
	if c.addresses.Results, err = c.queue.Create(ctx, c.settings.ResultsQueue); err != nil {
		return errors.Wrap(err, "create results queue")
	}
	for _, bucket := range []string{c.settings.InputBucket, c.settings.OutputBucket} {
		if err := c.blobs.CreateBucket(ctx, bucket); err != nil {
			return errors.Wrapf(err, "create bucket %s", bucket)
		}
	}
	return c.state.outputs.Init()
}

// Run sets up and runs every loop until the termination protocol stops
// the coordinator or ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.Setup(ctx); err != nil {
		return err
	}
	c.logger.Info("coordinator started",
		"submission", c.addresses.Submission,
		"dispatch", c.addresses.Dispatch,
		"results", c.addresses.Results)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	intake, dispatcher, aggregator := c.components()
	p := pool.New().WithContext(ctx)
	p.Go(intake.Run)
	p.Go(dispatcher.Run)
	p.Go(func(ctx context.Context) error {
		defer cancel()
		return aggregator.Run(ctx)
	})
	err := p.Wait()
	c.logger.Info("coordinator stopped", "phase", c.state.Phase().String())
	return err
}

func (c *Coordinator) components() (*Intake, *Dispatcher, *Aggregator) {
	s := c.settings
	fin := &finalizer{
		queue:  c.queue,
		blobs:  c.blobs,
		bucket: s.OutputBucket,
		state:  c.state,
		bus:    c.bus,
		logger: c.logger.WithComponent("finalizer"),
	}
	intake := &Intake{
		queue:   c.queue,
		address: c.addresses.Submission,
		state:   c.state,
		backoff: s.PollBackoff,
		tick:    s.IntakeTick,
		lease:   s.SubmissionLease,
		logger:  c.logger.WithComponent("intake"),
	}
	dispatcher := &Dispatcher{
		queue:      c.queue,
		blobs:      c.blobs,
		submission: c.addresses.Submission,
		dispatch:   c.addresses.Dispatch,
		state:      c.state,
		scaler:     c.scaler,
		fin:        fin,
		backoff:    s.PollBackoff,
		bus:        c.bus,
		logger:     c.logger.WithComponent("dispatcher"),
	}
	aggregator := &Aggregator{
		queue:   c.queue,
		address: c.addresses.Results,
		state:   c.state,
		fin:     fin,
		terminator: &Terminator{
			queue:    c.queue,
			dispatch: c.addresses.Dispatch,
			fleet:    c.fleet,
			role:     s.WorkerRole,
			state:    c.state,
			drain:    s.DrainDelay,
			logger:   c.logger.WithComponent("terminator"),
		},
		batchSize:     s.ResultBatchSize,
		lease:         s.ResultLease,
		backoff:       s.PollBackoff,
		renewInterval: s.LeaseInterval,
		renewDelay:    s.LeaseInitialDelay,
		bus:           c.bus,
		logger:        c.logger.WithComponent("aggregator"),
	}
	return intake, dispatcher, aggregator
}
