package cmd

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/liuxd6825/loadrun/cmd/state"
	"github.com/liuxd6825/loadrun/core"
	"github.com/liuxd6825/loadrun/errext"
	"github.com/liuxd6825/loadrun/errext/exitcodes"
	"github.com/liuxd6825/loadrun/lib/trace"
	"github.com/liuxd6825/loadrun/output/summary"
	"github.com/liuxd6825/loadrun/ui/pb"
)

const tracerShutdownTimeout = 5 * time.Second

// cmdRun handles the `loadrun run` sub-command
type cmdRun struct {
	gs *state.GlobalState
}

//nolint:funlen
func (c *cmdRun) run(cmd *cobra.Command, args []string) (err error) {
	printBanner(c.gs)

	test, err := loadAndConfigureLocalTest(c.gs, cmd, args, getConfig)
	if err != nil {
		return err
	}
	conf := test.consolidatedConfig
	logger := c.gs.Logger

	testRun, err := test.buildTestRun(c.gs)
	if err != nil {
		return err
	}

	tracesOutput := test.runtimeOptions.TracesOutput.String
	tp, err := trace.TracerProviderFromConfigLine(c.gs.Ctx, tracesOutput)
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
		defer cancel()
		if serr := tp.Shutdown(ctx); serr != nil {
			logger.WithError(serr).Error("Shutting down the tracer provider failed")
		}
	}()

	outputs, err := createOutputs(c.gs, conf, test.runtimeOptions)
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}

	logger.Debug("Initializing the engine...")
	engine, err := core.NewEngine(testRun, test.runnerFactory(testRun, tp), outputs)
	if err != nil {
		return err
	}

	printExecutionDescription(c.gs, test.description(), engine, outputs)

	// The runCtx is cancelled by the first Ctrl+C: no new iterations start,
	// teardown and the summary still happen.
	runCtx, runCancel := context.WithCancel(c.gs.Ctx)
	defer runCancel()

	gracefulStop := func(sig os.Signal) {
		logger.WithField("sig", sig).Debug("Stopping loadrun in response to signal...")
		runCancel()
	}
	hardStop := func(sig os.Signal) {
		logger.WithField("sig", sig).Error("Aborting loadrun in response to signal")
	}
	stopSignalHandling := handleTestAbortSignals(c.gs, gracefulStop, hardStop)
	defer stopSignalHandling()

	progressCtx, progressCancel := context.WithCancel(context.Background())
	bar := newProgressBar(engine)
	progressBarWG := &sync.WaitGroup{}
	progressBarWG.Add(1)
	go func() {
		showProgress(progressCtx, c.gs, bar)
		progressBarWG.Done()
	}()

	result, runErr := engine.Run(runCtx)

	status := pb.Done
	if result == nil || result.State == summary.StateAborted {
		status = pb.Interrupted
	}
	bar.Modify(pb.WithStatus(status))
	progressCancel()
	progressBarWG.Wait()
	logger.Debug("Engine run terminated")

	if result != nil {
		c.handleSummary(result, test.runtimeOptions.NoSummary.Bool, test.runtimeOptions.SummaryExport.String)
	}

	if runErr != nil && errext.IsInterruptError(runErr) {
		logger.Debug("The test run was interrupted")
	}
	return runErr
}

// handleSummary prints the end-of-test summary and exports it. Failures are
// logged, they never change the outcome of the run.
func (c *cmdRun) handleSummary(s *summary.Summary, noSummary bool, exportPath string) {
	if !noSummary {
		tw := summary.TextWriter{NoColor: noColor(c.gs, c.gs.Stdout), Indent: "  "}
		if err := tw.Write(c.gs.Stdout, s); err != nil {
			c.gs.Logger.WithError(err).Error("failed to print the end-of-test summary")
		}
	}
	if exportPath != "" {
		if err := summary.Export(c.gs.FS, exportPath, s); err != nil {
			c.gs.Logger.WithError(err).Error("failed to export the end-of-test summary")
		}
	}
}

func (c *cmdRun) flagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.AddFlagSet(optionFlagSet())
	flags.AddFlagSet(runtimeOptionFlagSet(true))
	flags.AddFlagSet(configFlagSet())
	return flags
}

func getCmdRun(gs *state.GlobalState) *cobra.Command {
	c := &cmdRun{gs: gs}

	runCmd := &cobra.Command{
		Use:   "run [scenario]",
		Short: "Start a load test",
		Long: `Start a load test.

The scenario is a YAML or JSON file. Without one, a built-in preset, odoo
unless --preset says otherwise, is run against $BASE_URL.`,
		Example: `
  # Run the built-in Odoo scenario against a staging server.
  loadrun run -e BASE_URL=https://odoo.example.com

  # Mix regular and admin users with random think times.
  loadrun run --preset odoo-locust -e BASE_URL=https://odoo.example.com

  # Ramp VUs from 0 to 100 over 10s, stay there for 60s, then 10s down to 0.
  loadrun run -s 10s:100 -s 60s:100 -s 10s:0 scenario.yaml

  # Send metrics to an influxdb server
  loadrun run -o influxdb=http://1.2.3.4:8086/loadrun scenario.yaml`[1:],
		Args: maxArgsWithMsg(1, "arg should be the path to a scenario file"),
		RunE: c.run,
	}

	runCmd.Flags().SortFlags = false
	runCmd.Flags().AddFlagSet(c.flagSet())

	return runCmd
}
