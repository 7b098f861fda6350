package coordinator

import (
	"context"

	"github.com/Iron-Ham/fanout/internal/blob"
	"github.com/Iron-Ham/fanout/internal/errors"
	"github.com/Iron-Ham/fanout/internal/event"
	"github.com/Iron-Ham/fanout/internal/logging"
	"github.com/Iron-Ham/fanout/internal/protocol"
	"github.com/Iron-Ham/fanout/internal/queue"
)

// finalizer uploads a finished job's output and notifies its reply queue.
// It is shared by the dispatcher and the aggregator; the job table hands
// each job to exactly one of them.
type finalizer struct {
	queue  queue.Queue
	blobs  blob.Store
	bucket string
	state  *State
	bus    *event.Bus
	logger *logging.Logger
}

// finalize completes a job in the finalizing status. On an upload or
// notify failure the job stays in the table flagged for retry.
func (f *finalizer) finalize(ctx context.Context, snap Snapshot) {
	reply := snap.ReplyAddress
	logger := f.logger.WithJob(reply)

	name, data, err := f.state.outputs.Contents(reply)
	if err != nil {
		logger.Error("read output for finalize failed", "error", err)
		f.state.jobs.MarkRetry(reply)
		return
	}
	if err := f.blobs.Put(ctx, f.bucket, name, data); err != nil {
		logger.Warn("upload output failed", "key", name, "error", err)
		f.state.jobs.MarkRetry(reply)
		return
	}

	body, attrs := protocol.Completion{Bucket: f.bucket, Key: name}.Encode()
	if err := f.queue.Send(ctx, reply, body, attrs); err != nil {
		if !errors.Is(err, errors.ErrQueueNotFound) {
			logger.Warn("completion notice failed", "key", name, "error", err)
			f.state.jobs.MarkRetry(reply)
			return
		}
		logger.Warn("reply queue gone, dropping completion notice", "key", name)
	}

	f.state.jobs.Remove(reply)
	if err := f.state.outputs.Release(reply); err != nil {
		logger.Warn("remove local output failed", "error", err)
	}
	logger.Info("job finalized", "key", name, "units", snap.Units, "skipped", snap.Skipped)
	f.bus.Publish(event.NewJobFinalizedEvent(reply, name, snap.Units))
}

// retry re-attempts every finalization that failed earlier.
func (f *finalizer) retry(ctx context.Context) {
	for _, snap := range f.state.jobs.TakeRetries() {
		f.finalize(ctx, snap)
	}
}
