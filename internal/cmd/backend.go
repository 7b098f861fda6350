package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/fanout/internal/blob"
	"github.com/Iron-Ham/fanout/internal/config"
	"github.com/Iron-Ham/fanout/internal/logging"
	"github.com/Iron-Ham/fanout/internal/queue"
	"github.com/Iron-Ham/fanout/internal/queue/dirqueue"
	"github.com/Iron-Ham/fanout/internal/queue/memqueue"
)

// env bundles what every long-running subcommand needs: the validated
// config, a logger and the queue and blob collaborators.
type env struct {
	cfg    *config.Config
	logger *logging.Logger
	queue  queue.Queue
	blobs  blob.Store
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
}

// openQueue returns the configured backend. The memory backend only
// reaches components in the same process.
func openQueue(cfg *config.Config) (queue.Queue, error) {
	switch cfg.Queues.Backend {
	case "memory":
		return memqueue.New(), nil
	case "dir":
		b, err := dirqueue.New(cfg.Queues.Root)
		if err != nil {
			return nil, fmt.Errorf("open queue root %s: %w", cfg.Queues.Root, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queues.Backend)
	}
}

func openEnv() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	q, err := openQueue(cfg)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, queue: q, blobs: blob.NewOsStore(cfg.Blob.Root)}, nil
}

func (e *env) close() {
	_ = e.logger.Close()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
