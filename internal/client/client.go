// Package client is the submitting application: it uploads input files,
// submits a job, waits on a private reply queue for the completion notice
// and renders the finished analysis as an HTML report.
package client

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/fanout/internal/blob"
	"github.com/Iron-Ham/fanout/internal/config"
	"github.com/Iron-Ham/fanout/internal/errors"
	"github.com/Iron-Ham/fanout/internal/logging"
	"github.com/Iron-Ham/fanout/internal/protocol"
	"github.com/Iron-Ham/fanout/internal/queue"
)

const (
	defaultReplyWait   = 20 * time.Second
	defaultPollBackoff = time.Second
)

// Settings holds the client's queue, buckets and reply wait.
type Settings struct {
	SubmissionQueue string
	InputBucket     string
	OutputBucket    string
	ReplyWait       time.Duration
	PollBackoff     time.Duration
}

// SettingsFromConfig extracts the client settings from cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		SubmissionQueue: cfg.Queues.Submission,
		InputBucket:     cfg.Blob.InputBucket,
		OutputBucket:    cfg.Blob.OutputBucket,
		ReplyWait:       cfg.Client.ReplyWait,
		PollBackoff:     cfg.Client.PollBackoff,
	}
}

// Request describes one submission.
type Request struct {
	Inputs    []string // local JSON-lines files, merged in order
	Output    string   // HTML report path
	BatchSize int
	Terminate bool
}

// Validate checks the request before anything is uploaded.
func (r Request) Validate() error {
	if len(r.Inputs) == 0 {
		return errors.NewValidationError("at least one input file is required").WithField("inputs")
	}
	if r.Output == "" {
		return errors.NewValidationError("output path is required").WithField("output")
	}
	if r.BatchSize < 1 {
		return errors.NewValidationError("batch size must be at least 1").WithField("n").WithValue(r.BatchSize)
	}
	return nil
}

// Outcome is what a finished submission produced.
type Outcome struct {
	ReplyAddress string
	InputKey     string
	OutputKey    string
	Results      []protocol.Result
}

// Client submits jobs to a coordinator.
type Client struct {
	settings Settings
	queue    queue.Queue
	blobs    blob.Store
	fs       afero.Fs
	logger   *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithFs sets the filesystem inputs are read from and the report written
// to. Defaults to the OS.
func WithFs(fs afero.Fs) Option {
	return func(c *Client) {
		if fs != nil {
			c.fs = fs
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client.
func New(settings Settings, q queue.Queue, blobs blob.Store, opts ...Option) *Client {
	c := &Client{
		settings: settings,
		queue:    q,
		blobs:    blobs,
		fs:       afero.NewOsFs(),
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.settings.ReplyWait <= 0 {
		c.settings.ReplyWait = defaultReplyWait
	}
	if c.settings.PollBackoff <= 0 {
		c.settings.PollBackoff = defaultPollBackoff
	}
	c.logger = c.logger.WithComponent("client")
	return c
}

// Submit runs one job end to end and writes its report. The reply queue
// and the uploaded input are removed before returning, whatever the
// outcome.
func (c *Client) Submit(ctx context.Context, req Request) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	input, err := c.merge(req.Inputs)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	out := &Outcome{InputKey: "input-" + id + ".jsonl"}

	if err := c.blobs.CreateBucket(ctx, c.settings.InputBucket); err != nil {
		return nil, errors.Wrap(err, "create input bucket")
	}
	if err := c.blobs.Put(ctx, c.settings.InputBucket, out.InputKey, input); err != nil {
		return nil, errors.Wrap(err, "upload input")
	}
	defer c.cleanupBlob(c.settings.InputBucket, out.InputKey)

	out.ReplyAddress, err = c.queue.Create(ctx, "fanout-reply-"+id)
	if err != nil {
		return nil, errors.Wrap(err, "create reply queue")
	}
	defer c.cleanupQueue(out.ReplyAddress)

	submission, err := c.queue.Create(ctx, c.settings.SubmissionQueue)
	if err != nil {
		return nil, errors.Wrap(err, "resolve submission queue")
	}
	body, attrs := protocol.JobRequest{
		ReplyAddress: out.ReplyAddress,
		Bucket:       c.settings.InputBucket,
		Key:          out.InputKey,
		BatchSize:    req.BatchSize,
		Terminate:    req.Terminate,
	}.Encode()
	if err := c.queue.Send(ctx, submission, body, attrs); err != nil {
		return nil, errors.Wrap(err, "send submission")
	}
	c.logger.Info("job submitted", "reply", out.ReplyAddress, "key", out.InputKey, "n", req.BatchSize, "terminate", req.Terminate)

	done, err := c.wait(ctx, out.ReplyAddress)
	if err != nil {
		return nil, err
	}
	bucket := done.Bucket
	if bucket == "" {
		bucket = c.settings.OutputBucket
	}
	out.OutputKey = done.Key

	out.Results, err = c.download(ctx, bucket, done.Key)
	if err != nil {
		return nil, err
	}
	defer c.cleanupBlob(bucket, done.Key)

	if err := c.writeReport(req.Output, out.Results); err != nil {
		return nil, err
	}
	c.logger.Info("report written", "path", req.Output, "results", len(out.Results))
	return out, nil
}

// merge concatenates the input files, making sure each ends in a newline
// so records never run together.
func (c *Client) merge(paths []string) ([]byte, error) {
	var buf bytes.Buffer
	for _, p := range paths {
		data, err := afero.ReadFile(c.fs, p)
		if err != nil {
			return nil, errors.Wrapf(err, "read input %s", p)
		}
		buf.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

// wait long-polls the reply queue until a completion notice arrives.
func (c *Client) wait(ctx context.Context, reply string) (protocol.Completion, error) {
	start := time.Now()
	for {
		msgs, err := c.queue.Receive(ctx, reply, queue.ReceiveOptions{
			MaxMessages: 1,
			Wait:        c.settings.ReplyWait,
			Lease:       c.settings.ReplyWait,
		})
		if ctx.Err() != nil {
			return protocol.Completion{}, errors.Join(
				errors.NewTimeoutError("wait for completion", time.Since(start)), ctx.Err())
		}
		if errors.Is(err, errors.ErrQueueNotFound) {
			return protocol.Completion{}, errors.Wrap(err, "reply queue disappeared")
		}
		if err != nil {
			c.logger.Warn("poll reply queue failed", "error", err)
			if !queue.Backoff(ctx, c.settings.PollBackoff) {
				return protocol.Completion{}, errors.Join(
					errors.NewTimeoutError("wait for completion", time.Since(start)), ctx.Err())
			}
			continue
		}
		for _, msg := range msgs {
			if err := c.queue.Delete(ctx, reply, msg.Token); err != nil {
				c.logger.Warn("delete completion notice failed", "error", err)
			}
			done, err := protocol.ParseCompletion(msg)
			if err != nil {
				c.logger.Warn("ignoring malformed completion notice", "error", err)
				continue
			}
			return done, nil
		}
	}
}

func (c *Client) download(ctx context.Context, bucket, key string) ([]protocol.Result, error) {
	rc, err := c.blobs.Get(ctx, bucket, key)
	if err != nil {
		return nil, errors.Wrap(err, "download output")
	}
	defer rc.Close()
	results, err := protocol.ParseResults(rc)
	if err != nil {
		return nil, errors.Wrap(err, "parse output")
	}
	return results, nil
}

func (c *Client) writeReport(path string, results []protocol.Result) error {
	f, err := c.fs.Create(path)
	if err != nil {
		return errors.Wrap(err, "create report")
	}
	if err := RenderReport(f, results); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (c *Client) cleanupBlob(bucket, key string) {
	if err := c.blobs.Delete(context.Background(), bucket, key); err != nil {
		c.logger.Warn("cleanup blob failed", "bucket", bucket, "key", key, "error", err)
	}
}

func (c *Client) cleanupQueue(address string) {
	if err := c.queue.DeleteQueue(context.Background(), address); err != nil {
		c.logger.Warn("cleanup reply queue failed", "queue", address, "error", err)
	}
}
