package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evolab/gactl/internal/api"
	"github.com/evolab/gactl/internal/history"
	"github.com/evolab/gactl/internal/log"
	"github.com/evolab/gactl/internal/metrics"
	"github.com/evolab/gactl/internal/model"
	"github.com/evolab/gactl/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the HTTP control plane and supervise the optimizer",
	RunE:  doServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "address to listen on, overrides service.listen")
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attrs := slog.Group("gactl",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	optCfg, err := service.ParseConfig(vconfig)
	if err != nil {
		return err
	}
	sup := newSupervisor(ctx, optCfg)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	sup.WithObservers(m)

	srv := api.New(sup, sup.Progress()).
		WithMetrics(m).
		WithStopTimeout(shutdownBound(optCfg))

	if config.Service.History != "" {
		runs, err := history.Open(ctx, config.Service.History)
		if err != nil {
			return fmt.Errorf("opening run history: %w", err)
		}
		defer func() {
			if err := runs.Close(); err != nil {
				slog.WarnContext(ctx, "closing run history", "error", err)
			}
		}()
		sup.WithObservers(runs)
		srv.WithRuns(runs)
	}

	g, gctx := errgroup.WithContext(ctx)

	listen := vconfig.GetString("service.listen")
	g.Go(func() error {
		slog.InfoContext(gctx, "listening", "addr", listen)
		return srv.ListenAndServe(gctx, listen)
	})

	if config.Service.Mode == model.ServiceModeTimer {
		sched, err := service.NewScheduler(gctx, config.Service.Schedule, sup.ScheduledStart(gctx))
		if err != nil {
			return err
		}
		sched.Start()
		g.Go(func() error {
			<-gctx.Done()
			return sched.Shutdown()
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownBound(optCfg))
		defer cancel()
		return sup.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.InfoContext(ctx, "gactl stopped")
	return nil
}

// newSupervisor builds a Supervisor resuming the RunConfig left in the
// optimizer config file by a previous gactl.
func newSupervisor(ctx context.Context, cfg service.Config) *service.Supervisor {
	sup := service.NewSupervisor(cfg)

	rc := config.InitialRunConfig()
	prev, err := sup.ConfigFile().Read(rc)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		slog.WarnContext(ctx, "ignoring optimizer config file", "path", sup.ConfigFile().Path(), "error", err)
	default:
		if err := prev.Validate(); err != nil {
			slog.WarnContext(ctx, "ignoring optimizer config file", "path", sup.ConfigFile().Path(), "error", err)
		} else {
			rc = prev
		}
	}
	sup.WithRunConfig(rc)

	if exe, ok := sup.Executable(); !ok {
		slog.WarnContext(ctx, "optimizer executable not found, compile it before starting a run",
			"path", exe,
			"build_command", cfg.BuildCommand,
		)
	}
	return sup
}

// shutdownBound covers the whole stop escalation of a run.
func shutdownBound(cfg service.Config) time.Duration {
	return cfg.GracePeriod + cfg.KillTimeout + time.Second
}
