package coordinator

import (
	"context"
	"time"

	"github.com/Iron-Ham/fanout/internal/logging"
	"github.com/Iron-Ham/fanout/internal/queue"
)

// intakeBatch is how many submissions one poll may take.
const intakeBatch = 10

// Intake moves submissions from the submission queue onto the request
// FIFO. Submissions are not deleted here; the dispatcher acknowledges
// them once processed.
type Intake struct {
	queue   queue.Queue
	address string
	state   *State
	backoff time.Duration
	tick    time.Duration
	lease   time.Duration
	logger  *logging.Logger
}

// Run polls until ctx is done or the terminate flag is set.
func (in *Intake) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if in.state.TerminateRequested() {
			in.logger.Info("intake stopping, terminate requested")
			return nil
		}

		msgs, err := in.queue.Receive(ctx, in.address, queue.ReceiveOptions{
			MaxMessages: intakeBatch,
			Lease:       in.lease,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			in.logger.Warn("poll submissions failed", "error", err)
		}
		if len(msgs) == 0 {
			if !queue.Backoff(ctx, in.backoff) {
				return nil
			}
			continue
		}

		for _, msg := range msgs {
			admitted, queued := in.state.Admit(msg)
			switch {
			case !admitted:
				in.logger.Info("submission left on the queue, terminate requested", "message_id", msg.ID)
			case queued:
				in.logger.Debug("submission queued", "message_id", msg.ID)
			default:
				in.logger.Debug("submission redelivered while pending", "message_id", msg.ID,
					"receive_count", msg.ReceiveCount)
			}
		}
		if !queue.Backoff(ctx, in.tick) {
			return nil
		}
	}
}
