package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/fanout/internal/analyzer"
	"github.com/Iron-Ham/fanout/internal/coordinator"
	"github.com/Iron-Ham/fanout/internal/event"
	"github.com/Iron-Ham/fanout/internal/fleet"
	"github.com/Iron-Ham/fanout/internal/journal"
	"github.com/Iron-Ham/fanout/internal/worker"
)

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run the coordinator until it is told to terminate",
	Long: `Run the coordinator: accept job requests from the submission queue,
dispatch their units to workers, aggregate results and notify each client
when its job is complete.

Workers are provisioned according to fleet.mode: "process" launches
"fanout worker" child processes, "inprocess" runs them as goroutines.
The coordinator exits after a job carrying the terminate marker has been
accepted and all outstanding work has drained.`,
	Args: cobra.NoArgs,
	RunE: runCoordinator,
}

func init() {
	rootCmd.AddCommand(coordinatorCmd)
}

// managedFleet is a provisioner whose workers can be awaited or stopped.
type managedFleet interface {
	fleet.Provisioner
	Wait()
	Shutdown()
}

func runCoordinator(cmd *cobra.Command, _ []string) error {
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

	f, err := newFleet(ctx, e, bus)
	if err != nil {
		return err
	}
	return serve(ctx, e, bus, f)
}

// serve runs the coordinator and then settles the fleet: workers drain on
// their own after a terminate broadcast, and are stopped on interruption.
func serve(ctx context.Context, e *env, bus *event.Bus, f managedFleet) error {
	c := coordinator.New(coordinator.SettingsFromConfig(e.cfg), e.queue, e.blobs, f,
		coordinator.WithBus(bus),
		coordinator.WithLogger(e.logger),
	)
	err := c.Run(ctx)
	if ctx.Err() != nil {
		f.Shutdown()
	} else {
		f.Wait()
	}
	return err
}

func newFleet(ctx context.Context, e *env, bus *event.Bus) (managedFleet, error) {
	switch e.cfg.Fleet.Mode {
	case "inprocess":
		return fleet.NewGoroutineFleet(ctx, workerRunner(e, bus), e.logger), nil
	case "process":
		args := []string{"worker"}
		if used := viper.ConfigFileUsed(); used != "" {
			args = append(args, "--config", used)
		}
		return fleet.NewProcessFleet(e.cfg.Fleet.WorkerBinary, args, e.logger)
	default:
		return nil, fmt.Errorf("unknown fleet mode %q", e.cfg.Fleet.Mode)
	}
}

// workerRunner runs a worker loop per in-process instance. Every instance
// shares the process's queue, so the memory backend works here.
func workerRunner(e *env, bus *event.Bus) fleet.RunFunc {
	lex := analyzer.NewLexicon()
	settings := worker.SettingsFromConfig(e.cfg)
	return func(ctx context.Context, id string, self fleet.SelfTerminator) error {
		w := worker.New(id, settings, e.queue, lex, lex, self,
			worker.WithBus(bus),
			worker.WithLogger(e.logger),
		)
		return w.Run(ctx)
	}
}

// attachJournal opens the configured job journal and subscribes it to bus.
// An empty journal path disables it.
func attachJournal(e *env, bus *event.Bus) (func(), error) {
	path := e.cfg.Coordinator.JournalPath
	if path == "" {
		return func() {}, nil
	}
	j, err := journal.Open(path, e.logger)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j.Attach(bus)
	return func() { _ = j.Close() }, nil
}
