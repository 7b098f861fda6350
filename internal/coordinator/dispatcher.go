package coordinator

import (
	"bufio"
	"context"
	"io"
	"time"

	"github.com/Iron-Ham/fanout/internal/blob"
	"github.com/Iron-Ham/fanout/internal/errors"
	"github.com/Iron-Ham/fanout/internal/event"
	"github.com/Iron-Ham/fanout/internal/logging"
	"github.com/Iron-Ham/fanout/internal/protocol"
	"github.com/Iron-Ham/fanout/internal/queue"
	"github.com/Iron-Ham/fanout/internal/scaling"
)

// Scaler sizes the worker fleet after each dispatched job.
type Scaler interface {
	Reconcile(ctx context.Context, units, n int) scaling.Decision
}

// Dispatcher expands job requests into units on the dispatch queue.
type Dispatcher struct {
	queue      queue.Queue
	blobs      blob.Store
	submission string
	dispatch   string
	state      *State
	scaler     Scaler
	fin        *finalizer
	backoff    time.Duration
	bus        *event.Bus
	logger     *logging.Logger
}

// Run pops requests off the FIFO until ctx is done or the coordinator
// starts terminating.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil || d.state.Phase() >= PhaseTerminating {
			return nil
		}
		msg, ok := d.state.requests.Pop()
		if !ok {
			if !queue.Backoff(ctx, d.backoff) {
				return nil
			}
			continue
		}
		d.Process(ctx, msg)
	}
}

// Process dispatches one submission and acknowledges it. Malformed and
// duplicate submissions are acknowledged without creating a job.
func (d *Dispatcher) Process(ctx context.Context, msg queue.Message) {
	defer d.acknowledge(ctx, msg)

	req, err := protocol.ParseJobRequest(msg)
	if err != nil {
		d.logger.Warn("dropping malformed submission", "message_id", msg.ID, "error", err)
		return
	}
	logger := d.logger.WithJob(req.ReplyAddress)

	if err := d.state.jobs.Register(req); err != nil {
		logger.Warn("dropping submission for a job already in progress", "error", err)
		return
	}
	if req.BatchSize < 1 {
		logger.Warn("submission has no usable batch size, workers will not be scaled for it")
	}
	logger.Info("job accepted", "bucket", req.Bucket, "key", req.Key, "n", req.BatchSize, "terminate", req.Terminate)
	d.bus.Publish(event.NewJobAcceptedEvent(req.ReplyAddress, req.Bucket, req.Key, req.BatchSize, req.Terminate))

	units, skipped := d.dispatchBlob(ctx, req, logger)

	snap, ready, err := d.state.jobs.Seal(req.ReplyAddress, skipped)
	if err != nil {
		logger.Error("seal job failed", "error", err)
	} else {
		logger.Info("job sealed", "units", units, "skipped", skipped, "outstanding", snap.Outstanding)
		d.bus.Publish(event.NewJobSealedEvent(req.ReplyAddress, units, skipped))
		if ready {
			d.fin.finalize(ctx, snap)
		}
	}

	d.scaler.Reconcile(ctx, units, req.BatchSize)

	if req.Terminate {
		d.state.RequestTerminate()
	}
}

// dispatchBlob streams the job's input and sends every unit. It returns
// the units sent and the records skipped.
func (d *Dispatcher) dispatchBlob(ctx context.Context, req protocol.JobRequest, logger *logging.Logger) (units, skipped int) {
	rc, err := d.blobs.Get(ctx, req.Bucket, req.Key)
	if err != nil {
		logger.Error("read input blob failed", "bucket", req.Bucket, "key", req.Key, "error", err)
		return 0, 0
	}
	defer rc.Close()

	r := bufio.NewReader(rc)
	for record := 1; ; record++ {
		line, readErr := r.ReadString('\n')
		if line != "" {
			sent, ok := d.dispatchRecord(ctx, req, line, logger.With("record", record))
			units += sent
			if !ok {
				skipped++
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				logger.Error("input blob read interrupted", "record", record, "error", readErr)
			}
			return units, skipped
		}
	}
}

// dispatchRecord sends one record's units. The units are counted before
// any is sent so a fast result cannot find its job empty.
func (d *Dispatcher) dispatchRecord(ctx context.Context, req protocol.JobRequest, line string, logger *logging.Logger) (int, bool) {
	batch, err := protocol.ParseRecord(line, req.ReplyAddress)
	if err != nil {
		logger.Warn("skipping malformed record", "error", err)
		return 0, false
	}
	if len(batch) == 0 {
		return 0, true
	}

	ids := make([]string, len(batch))
	for i, u := range batch {
		ids[i] = u.ID
	}
	if err := d.state.jobs.AddUnits(req.ReplyAddress, ids); err != nil {
		logger.Error("count units failed", "error", err)
		return 0, false
	}

	sent := 0
	for _, u := range batch {
		body, attrs := u.Encode()
		if err := d.queue.Send(ctx, d.dispatch, body, attrs); err != nil {
			logger.Warn("send unit failed", "unit_id", u.ID, "error", err)
			d.state.jobs.Rollback(req.ReplyAddress, u.ID)
			continue
		}
		sent++
	}
	return sent, true
}

func (d *Dispatcher) acknowledge(ctx context.Context, msg queue.Message) {
	token := d.state.requests.Done(msg.ID)
	if token == "" {
		token = msg.Token
	}
	if err := d.queue.Delete(ctx, d.submission, token); err != nil {
		d.logger.Warn("acknowledge submission failed", "message_id", msg.ID, "error", err)
	}
}
