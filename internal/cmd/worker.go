package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/fanout/internal/analyzer"
	"github.com/Iron-Ham/fanout/internal/event"
	"github.com/Iron-Ham/fanout/internal/fleet"
	"github.com/Iron-Ham/fanout/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run one worker loop",
	Long: `Run one worker: take units from the dispatch queue, analyze each review
and send the result to the results queue. The worker shuts itself down
when it receives the coordinator's terminate sentinel.

The coordinator's process fleet starts workers with --instance-id and
--role; both may be omitted when running a worker by hand.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

var (
	workerInstanceID string
	workerRole       string
)

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().StringVar(&workerInstanceID, "instance-id", "", "instance ID (default: generated)")
	workerCmd.Flags().StringVar(&workerRole, "role", "worker", "role tag reported in logs")
}

func runWorker(cmd *cobra.Command, _ []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	id := workerInstanceID
	if id == "" {
		id = fleet.NewInstanceID()
	}

	sigCtx, stop := signalContext(cmd)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	lex := analyzer.NewLexicon()
	w := worker.New(id, worker.SettingsFromConfig(e.cfg), e.queue, lex, lex, fleet.NewCancelSelf(cancel),
		worker.WithBus(event.NewBus()),
		worker.WithLogger(e.logger.With("role", workerRole)),
	)
	return w.Run(ctx)
}
