package cmd

import (
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/fanout/internal/event"
	"github.com/Iron-Ham/fanout/internal/fleet"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a coordinator with in-process workers",
	Long: `Run a coordinator and its workers in a single process. Workers are
goroutines regardless of fleet.mode.

With --input, a job is submitted from the same process with the terminate
marker set, so the command exits once the report is written. This works
with the memory queue backend:

  FANOUT_QUEUES_BACKEND=memory fanout run -i reviews.jsonl -o report.html -n 5`,
	Args: cobra.NoArgs,
	RunE: runLocal,
}

var runOpts submitFlags

func init() {
	rootCmd.AddCommand(runCmd)
	registerSubmitFlags(runCmd, &runOpts)
}

func runLocal(cmd *cobra.Command, _ []string) error {
	submitting := len(runOpts.inputs) > 0
	req := runOpts.request()
	req.Terminate = true
	if submitting {
		if err := req.Validate(); err != nil {
			return err
		}
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	ctx, stop := signalContext(cmd)
	defer stop()

	bus := event.NewBus()
	closeJournal, err := attachJournal(e, bus)
	if err != nil {
		return err
	}
	defer closeJournal()

	f := fleet.NewGoroutineFleet(ctx, workerRunner(e, bus), e.logger)

	p := pool.New().WithErrors()
	p.Go(func() error { return serve(ctx, e, bus, f) })
	if submitting {
		p.Go(func() error { return submit(ctx, e, req, cmd.OutOrStdout()) })
	}
	return p.Wait()
}
