package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/evolab/gactl/internal/history"
	"github.com/evolab/gactl/internal/log"
	"github.com/evolab/gactl/internal/model"
	"github.com/evolab/gactl/internal/service"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the optimizer once in the foreground and print the result",
	RunE:  doRun,
}

var runFlags struct {
	function    string
	generations int
	popSize     int
}

func init() {
	runCmd.Flags().StringVar(&runFlags.function, "function", "", "fitness function, see gactl functions")
	runCmd.Flags().IntVar(&runFlags.generations, "generations", 0, "number of generations")
	runCmd.Flags().IntVar(&runFlags.popSize, "pop-size", 0, "population size")
}

// finished hands the result of the single run over to doRun.
type finished chan model.RunResult

func (finished) RunStarted(context.Context, model.RunInfo) {}

func (f finished) RunFinished(_ context.Context, res model.RunResult) {
	select {
	case f <- res:
	default:
	}
}

func runOverrides(cmd *cobra.Command) model.Overrides {
	var o model.Overrides
	if cmd.Flags().Changed("function") {
		o.Function = model.Ptr(runFlags.function)
	}
	if cmd.Flags().Changed("generations") {
		o.Generations = model.Ptr(runFlags.generations)
	}
	if cmd.Flags().Changed("pop-size") {
		o.PopSize = model.Ptr(runFlags.popSize)
	}
	return o
}

func doRun(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attrs := slog.Group("gactl",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	optCfg, err := service.ParseConfig(vconfig)
	if err != nil {
		return err
	}
	sup := newSupervisor(ctx, optCfg)

	if config.Service.History != "" {
		runs, err := history.Open(ctx, config.Service.History)
		if err != nil {
			return fmt.Errorf("opening run history: %w", err)
		}
		defer func() {
			_ = runs.Close()
		}()
		sup.WithObservers(runs)
	}
	// registered last, observers run in order
	done := make(finished, 1)
	sup.WithObservers(done)

	rc, err := sup.Start(ctx, runOverrides(cmd))
	if err != nil {
		if st := sup.Status(); st.LastRun != nil {
			_ = printResult(cmd, *st.LastRun)
		}
		return err
	}
	slog.InfoContext(ctx, "optimizer started", "function", rc.Function, "generations", rc.Generations)

	var res model.RunResult
	select {
	case res = <-done:
	case <-ctx.Done():
		slog.InfoContext(ctx, "interrupted, stopping optimizer")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownBound(optCfg))
		defer cancel()
		if err := sup.Shutdown(sctx); err != nil {
			slog.ErrorContext(ctx, "stopping optimizer", "error", err)
		}
		select {
		case res = <-done:
		case <-sctx.Done():
			return fmt.Errorf("optimizer did not stop: %w", sctx.Err())
		}
	}

	if err := printResult(cmd, res); err != nil {
		return err
	}
	if res.Outcome != model.OutcomeCompleted {
		return fmt.Errorf("optimizer run %s: %s", res.Outcome, res.Error)
	}
	return nil
}

func printResult(cmd *cobra.Command, res model.RunResult) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
