// Package worker implements the worker loop: it takes units off the
// dispatch queue, analyzes them and sends formatted results to the
// coordinator until it receives the terminate sentinel.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/fanout/internal/analyzer"
	"github.com/Iron-Ham/fanout/internal/config"
	"github.com/Iron-Ham/fanout/internal/errors"
	"github.com/Iron-Ham/fanout/internal/event"
	"github.com/Iron-Ham/fanout/internal/fleet"
	"github.com/Iron-Ham/fanout/internal/lease"
	"github.com/Iron-Ham/fanout/internal/logging"
	"github.com/Iron-Ham/fanout/internal/protocol"
	"github.com/Iron-Ham/fanout/internal/queue"
)

// receiveBatch is the number of units taken per poll.
const receiveBatch = 1

// Settings holds the worker's queue names and timings.
type Settings struct {
	DispatchQueue string
	ResultsQueue  string

	Wait        time.Duration
	Lease       time.Duration
	PollBackoff time.Duration
	DrainDelay  time.Duration

	LeaseInitialDelay time.Duration
	LeaseInterval     time.Duration
}

// SettingsFromConfig extracts the worker settings from cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		DispatchQueue:     cfg.Queues.Dispatch,
		ResultsQueue:      cfg.Queues.Results,
		Wait:              cfg.Worker.Wait,
		Lease:             cfg.Worker.Lease,
		PollBackoff:       cfg.Worker.PollBackoff,
		DrainDelay:        cfg.Worker.DrainDelay,
		LeaseInitialDelay: cfg.Lease.InitialDelay,
		LeaseInterval:     cfg.Lease.WorkerInterval,
	}
}

// Worker is one worker loop.
type Worker struct {
	id        string
	settings  Settings
	queue     queue.Queue
	sentiment analyzer.SentimentClassifier
	entities  analyzer.EntityExtractor
	self      fleet.SelfTerminator
	bus       *event.Bus
	logger    *logging.Logger

	dispatch string
	results  string

	processed atomic.Int64
}

// Option configures a Worker.
type Option func(*Worker)

// WithBus publishes the worker's termination to b.
func WithBus(b *event.Bus) Option {
	return func(w *Worker) { w.bus = b }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a worker identified by id.
func New(id string, settings Settings, q queue.Queue, sentiment analyzer.SentimentClassifier,
	entities analyzer.EntityExtractor, self fleet.SelfTerminator, opts ...Option) *Worker {
	w := &Worker{
		id:        id,
		settings:  settings,
		queue:     q,
		sentiment: sentiment,
		entities:  entities,
		self:      self,
		logger:    logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.WithComponent("worker").WithWorker(id)
	return w
}

// Processed returns the number of results sent.
func (w *Worker) Processed() int64 {
	return w.processed.Load()
}

// Run polls the dispatch queue until the terminate sentinel arrives or ctx
// is done. Failing to resolve the queues is the only error returned.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.resolve(ctx); err != nil {
		return err
	}
	w.logger.Info("worker started")

	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := w.queue.Receive(ctx, w.dispatch, queue.ReceiveOptions{
			MaxMessages: receiveBatch,
			Wait:        w.settings.Wait,
			Lease:       w.settings.Lease,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn("poll dispatch queue failed", "error", err)
		}
		if len(msgs) == 0 {
			if !queue.Backoff(ctx, w.settings.PollBackoff) {
				return nil
			}
			continue
		}
		for _, msg := range msgs {
			if w.Process(ctx, msg) {
				return nil
			}
		}
	}
}

func (w *Worker) resolve(ctx context.Context) error {
	var err error
	if w.dispatch, err = w.queue.Create(ctx, w.settings.DispatchQueue); err != nil {
		return errors.Wrap(err, "resolve dispatch queue")
	}
	if w.results, err = w.queue.Create(ctx, w.settings.ResultsQueue); err != nil {
		return errors.Wrap(err, "resolve results queue")
	}
	return nil
}

// Process handles one dispatch message under its own lease renewer. It
// returns true when the message was the terminate sentinel and the worker
// has shut itself down.
func (w *Worker) Process(ctx context.Context, msg queue.Message) bool {
	renewer := lease.Start(ctx, w.queue, w.dispatch, []string{msg.Token},
		lease.WithInterval(w.settings.LeaseInterval),
		lease.WithInitialDelay(w.settings.LeaseInitialDelay),
		lease.WithLease(w.settings.Lease),
		lease.WithLogger(w.logger),
	)
	defer renewer.Complete()

	if protocol.IsTerminate(msg) {
		w.delete(ctx, msg)
		renewer.Complete()
		w.terminate(ctx)
		return true
	}

	unit, err := protocol.ParseUnit(msg)
	if err != nil {
		w.logger.Warn("dropping unit without a reply address", "message_id", msg.ID, "error", err)
		w.delete(ctx, msg)
		return false
	}
	logger := w.logger.WithJob(unit.ReplyAddress)

	result, err := w.analyze(ctx, unit, logger)
	if err != nil {
		logger.Warn("analysis failed, leaving unit for redelivery", "unit_id", unit.ID, "error", err)
		return false
	}

	body, attrs := protocol.ResultMessage{
		ReplyAddress: unit.ReplyAddress,
		UnitID:       unit.ID,
		Block:        result.Format(),
	}.Encode()
	if err := w.queue.Send(ctx, w.results, body, attrs); err != nil {
		logger.Warn("send result failed, leaving unit for redelivery", "unit_id", unit.ID, "error", err)
		return false
	}
	w.delete(ctx, msg)
	w.processed.Add(1)
	logger.Debug("unit processed", "unit_id", unit.ID, "sentiment", result.Sentiment, "sarcasm", result.Sarcasm)
	return false
}

func (w *Worker) analyze(ctx context.Context, unit protocol.Unit, logger *logging.Logger) (protocol.Result, error) {
	sentiment, err := w.sentiment.ClassifySentiment(ctx, unit.Text)
	if err != nil {
		return protocol.Result{}, errors.Wrap(err, "classify sentiment")
	}
	entities, err := w.entities.ExtractEntities(ctx, unit.Text)
	if err != nil {
		return protocol.Result{}, errors.Wrap(err, "extract entities")
	}

	// An unreadable rating compares as 0, which never matches a sentiment.
	rating, err := protocol.ParseRating(unit.Rating)
	if err != nil {
		logger.Warn("rating is not numeric, deriving sarcasm against 0", "unit_id", unit.ID, "rating", unit.Rating)
		rating = 0
	}

	return protocol.Result{
		Sentiment: sentiment,
		Link:      unit.Link,
		Entities:  entities,
		Sarcasm:   protocol.DeriveSarcasm(rating, sentiment),
	}, nil
}

func (w *Worker) terminate(ctx context.Context) {
	w.logger.Info("terminate sentinel received, draining", "delay", w.settings.DrainDelay)
	w.bus.Publish(event.NewWorkerTerminatingEvent(w.id))
	queue.Backoff(ctx, w.settings.DrainDelay)
	if err := w.self.TerminateSelf(context.WithoutCancel(ctx)); err != nil {
		w.logger.Error("self-termination failed", "error", err)
		return
	}
	w.logger.Info("worker terminated", "processed", w.Processed())
}

func (w *Worker) delete(ctx context.Context, msg queue.Message) {
	if err := w.queue.Delete(ctx, w.dispatch, msg.Token); err != nil {
		w.logger.Warn("delete unit failed", "message_id", msg.ID, "error", err)
	}
}
