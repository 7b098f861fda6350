package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/fanout/internal/client"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit review files and wait for the report",
	Long: `Submit one or more JSON-lines review files as a single job, wait for
the coordinator's completion notice and write an HTML report.

Examples:
  fanout submit -i reviews.jsonl -o report.html -n 5
  fanout submit -i a.jsonl -i b.jsonl --terminate`,
	Args: cobra.NoArgs,
	RunE: runSubmit,
}

type submitFlags struct {
	inputs    []string
	output    string
	batchSize int
	terminate bool
}

var submitOpts submitFlags

func init() {
	rootCmd.AddCommand(submitCmd)
	registerSubmitFlags(submitCmd, &submitOpts)
	_ = submitCmd.MarkFlagRequired("input")
}

func registerSubmitFlags(cmd *cobra.Command, f *submitFlags) {
	cmd.Flags().StringSliceVarP(&f.inputs, "input", "i", nil, "review file (JSON lines); repeatable")
	cmd.Flags().StringVarP(&f.output, "output", "o", "report.html", "HTML report path")
	cmd.Flags().IntVarP(&f.batchSize, "batch-size", "n", 1, "reviews per worker used to size the fleet")
	cmd.Flags().BoolVar(&f.terminate, "terminate", false, "ask the coordinator to shut down after this job")
}

func (f submitFlags) request() client.Request {
	return client.Request{
		Inputs:    f.inputs,
		Output:    f.output,
		BatchSize: f.batchSize,
		Terminate: f.terminate,
	}
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	req := submitOpts.request()
	if err := req.Validate(); err != nil {
		return err
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	ctx, stop := signalContext(cmd)
	defer stop()
	return submit(ctx, e, req, cmd.OutOrStdout())
}

func submit(ctx context.Context, e *env, req client.Request, out io.Writer) error {
	c := client.New(client.SettingsFromConfig(e.cfg), e.queue, e.blobs, client.WithLogger(e.logger))
	outcome, err := c.Submit(ctx, req)
	if err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}
	fmt.Fprintf(out, "Job %s complete: %d reviews analyzed\n", outcome.ReplyAddress, len(outcome.Results))
	fmt.Fprintf(out, "Answer: %s/%s\n", e.cfg.Blob.OutputBucket, outcome.OutputKey)
	fmt.Fprintf(out, "Report: %s\n", req.Output)
	return nil
}
