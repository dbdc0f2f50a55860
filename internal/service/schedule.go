package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/evolab/gactl/internal/model"
)

// NewScheduler returns a scheduler calling task on every tick of cfg.
// The caller starts and shuts it down.
func NewScheduler(ctx context.Context, cfgp *model.Schedule, task func()) (gocron.Scheduler, error) {
	if cfgp == nil {
		return nil, fmt.Errorf("service.schedule is nil")
	}
	cfg := *cfgp
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var job gocron.JobDefinition
	switch {
	case cfg.Cron != "":
		job = gocron.CronJob(cfg.Cron, false)
		slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron)
	default:
		d, err := model.ParseISODuration(cfg.Duration)
		if err != nil {
			return nil, fmt.Errorf("parsing service.schedule.duration: %w", err)
		}
		job = gocron.DurationJob(d)
		slog.DebugContext(ctx, "successfully parsed", "duration", d.String())
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(task),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return s, nil
}

// ScheduledStart is the timer mode task: it starts a run with the active
// config. A run still in progress at a tick is not an error.
func (s *Supervisor) ScheduledStart(ctx context.Context) func() {
	return func() {
		cfg, err := s.Start(ctx, model.Overrides{})
		switch {
		case errors.Is(err, model.ErrAlreadyRunning):
			slog.InfoContext(ctx, "scheduled start skipped: optimizer already running")
		case err != nil:
			slog.ErrorContext(ctx, "scheduled start failed", "error", err, "kind", model.Kind(err))
		default:
			slog.InfoContext(ctx, "scheduled start", "function", cfg.Function)
		}
	}
}
