package coordinator

import (
	"context"
	"time"

	"github.com/Iron-Ham/fanout/internal/event"
	"github.com/Iron-Ham/fanout/internal/lease"
	"github.com/Iron-Ham/fanout/internal/logging"
	"github.com/Iron-Ham/fanout/internal/protocol"
	"github.com/Iron-Ham/fanout/internal/queue"
)

// Aggregator collects worker results into per-job output files and
// finalizes jobs as they complete. One Aggregator runs per coordinator;
// additional ones sharing the State stay correct because each result is
// applied under the State's result lock.
type Aggregator struct {
	queue      queue.Queue
	address    string
	state      *State
	fin        *finalizer
	terminator *Terminator

	batchSize     int
	lease         time.Duration
	backoff       time.Duration
	renewInterval time.Duration
	renewDelay    time.Duration

	bus    *event.Bus
	logger *logging.Logger
}

// Run processes result batches until ctx is done or the coordinator has
// stopped.
func (a *Aggregator) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		a.fin.retry(ctx)

		msgs, err := a.queue.Receive(ctx, a.address, queue.ReceiveOptions{
			MaxMessages: a.batchSize,
			Lease:       a.lease,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Warn("poll results failed", "error", err)
		}
		if len(msgs) > 0 {
			a.ProcessBatch(ctx, msgs)
		}

		if a.terminator.MaybeTerminate(ctx) {
			return nil
		}
		if len(msgs) == 0 && !queue.Backoff(ctx, a.backoff) {
			return nil
		}
	}
}

// ProcessBatch handles one received batch under a shared lease renewer.
// A state error abandons the rest of the batch; those messages are left
// for redelivery.
func (a *Aggregator) ProcessBatch(ctx context.Context, msgs []queue.Message) {
	tokens := make([]string, len(msgs))
	for i, m := range msgs {
		tokens[i] = m.Token
	}
	renewer := lease.Start(ctx, a.queue, a.address, tokens,
		lease.WithInterval(a.renewInterval),
		lease.WithInitialDelay(a.renewDelay),
		lease.WithLease(a.lease),
		lease.WithLogger(a.logger),
	)
	defer renewer.Complete()

	done := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if err := a.handle(ctx, msg); err != nil {
			a.logger.Error("abandoning result batch", "processed", len(done), "remaining", len(msgs)-len(done), "error", err)
			break
		}
		done = append(done, msg.Token)
	}
	renewer.Complete()

	for _, token := range done {
		if err := a.queue.Delete(ctx, a.address, token); err != nil {
			a.logger.Warn("delete result failed", "error", err)
		}
	}
}

// handle applies one result. Only state errors are returned; data errors
// and anomalies are logged and the message counts as handled.
func (a *Aggregator) handle(ctx context.Context, msg queue.Message) error {
	res, err := protocol.ParseResultMessage(msg)
	if err != nil {
		a.logger.Warn("dropping malformed result", "message_id", msg.ID, "error", err)
		return nil
	}
	snap, ready, err := a.apply(res)
	if err != nil {
		return err
	}
	if ready {
		a.fin.finalize(ctx, snap)
	}
	return nil
}

// apply records res in the job table and the job's output file. A unit is
// appended at most once even when duplicates are handled concurrently.
func (a *Aggregator) apply(res protocol.ResultMessage) (Snapshot, bool, error) {
	a.state.resultMu.Lock()
	defer a.state.resultMu.Unlock()
	if err := a.state.jobs.Check(res.ReplyAddress, res.UnitID); err != nil {
		a.anomaly(res, err)
		return Snapshot{}, false, nil
	}
	if _, err := a.state.outputs.Append(res.ReplyAddress, res.Block); err != nil {
		return Snapshot{}, false, err
	}
	snap, ready, err := a.state.jobs.Resolve(res.ReplyAddress, res.UnitID)
	if err != nil {
		a.anomaly(res, err)
		return Snapshot{}, false, nil
	}
	return snap, ready, nil
}

func (a *Aggregator) anomaly(res protocol.ResultMessage, err error) {
	reason := err.Error()
	a.logger.WithJob(res.ReplyAddress).Warn("dropping result", "unit_id", res.UnitID, "reason", reason)
	a.bus.Publish(event.NewDuplicateResultEvent(res.ReplyAddress, res.UnitID, reason))
}
