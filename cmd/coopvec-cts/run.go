package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-coopvec/internal/cases"
	"github.com/23skdu/longbow-coopvec/internal/config"
	"github.com/23skdu/longbow-coopvec/internal/device"
	"github.com/23skdu/longbow-coopvec/internal/logger"
	"github.com/23skdu/longbow-coopvec/internal/monitoring"
	"github.com/23skdu/longbow-coopvec/internal/results"
	"github.com/23skdu/longbow-coopvec/internal/runner"
)

// errCasesFailed makes the process exit non-zero once the summary has
// been printed.
var errCasesFailed = errors.New("cases failed")

func runHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		cfg.Filter = args[0]
	}
	ctx := cmd.Context()

	root, _ := cases.All()
	tests := root.Flatten(cfg.Filter)
	if len(tests) == 0 {
		return fmt.Errorf("no cases match %q", cfg.Filter)
	}

	device.MaxMemory = cfg.MaxMemory
	emu := device.NewEmulator(device.WithWorkers(cfg.EmulatorWorkers))
	defer emu.Close()

	// the sinks are wired after the runner exists, since they carry its id
	var sinks []results.Sink
	mem := results.NewMemorySink()
	sinks = append(sinks, mem)
	r := runner.New(emu, nil, cfg)

	if cfg.ResultsFile != "" {
		fs, err := results.CreateFileSink(cfg.ResultsFile)
		if err != nil {
			return err
		}
		sinks = append(sinks, fs)
	}
	if cfg.FlightAddr != "" {
		fl := results.NewFlightSink(cfg.FlightAddr, r.RunID())
		if err := fl.Connect(ctx); err != nil {
			return err
		}
		sinks = append(sinks, fl)
	}
	if cfg.NeedsMetricsServer() {
		mon := monitoring.NewRunMonitor(r.RunID(), emu.Name(), len(tests))
		go func() {
			if err := mon.Serve(cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Log.Error("Run monitor failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mon.Shutdown(shutdownCtx); err != nil {
				logger.Log.Warn("Run monitor shutdown", "error", err)
			}
		}()
		sinks = append(sinks, mon)
	}
	sink := results.Tee(sinks...)
	r = r.WithSink(sink)

	sum, runErr := r.Run(ctx, tests)
	if err := sink.Close(); err != nil {
		logger.Log.Error("Failed to close result sinks", "error", err)
	}
	printSummary(cmd, sum, mem.Results(), cfg)
	if runErr != nil {
		return runErr
	}
	if !sum.OK() {
		return errCasesFailed
	}
	return nil
}

func printSummary(cmd *cobra.Command, sum runner.Summary, rs []results.Result, cfg config.Config) {
	out := cmd.OutOrStdout()
	var failed [][]string
	for _, r := range rs {
		switch r.Status {
		case results.Pass, results.NotSupported:
			continue
		}
		failed = append(failed, []string{r.Name, r.Status.String(), r.Message})
	}
	if len(failed) > 0 {
		table := tablewriter.NewWriter(out)
		table.SetHeader([]string{"CASE", "STATUS", "MESSAGE"})
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetAutoWrapText(false)
		table.AppendBulk(failed)
		table.Render()
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"STATUS", "CASES"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, st := range []results.Status{results.Pass, results.Fail, results.NotSupported,
		results.ResourceError, results.InternalError} {
		table.Append([]string{st.String(), strconv.Itoa(sum.Counts[st])})
	}
	table.SetFooter([]string{"total", strconv.Itoa(sum.Total)})
	table.Render()
	fmt.Fprintf(out, "run %s finished in %v\n", sum.RunID, sum.Duration.Round(time.Millisecond))
	if cfg.ResultsFile != "" {
		fmt.Fprintf(out, "results written to %s\n", cfg.ResultsFile)
	}
}
