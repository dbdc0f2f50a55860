package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evolab/gactl/internal/log"
	"github.com/evolab/gactl/internal/model"
	"github.com/evolab/gactl/internal/store"
)

// Observer is told about every run that reached the Running state.
// Calls for one run are ordered, RunStarted always comes first.
type Observer interface {
	RunStarted(ctx context.Context, run model.RunInfo)
	RunFinished(ctx context.Context, res model.RunResult)
}

// Supervisor owns the lifecycle of the optimizer process. It is either Idle
// or Running exactly one child. All state lives behind mx, no method waits
// for the child while holding it.
type Supervisor struct {
	mx      sync.Mutex
	config  model.RunConfig
	current *episode
	last    *model.RunResult

	launcher      Launcher
	command       Command
	exe           string
	buildCommand  string
	configFile    store.ConfigFile
	progress      store.ProgressFile
	grace         time.Duration
	killTimeout   time.Duration
	startupWindow time.Duration
	observers     []Observer

	wg sync.WaitGroup
}

// episode is a single Running period.
type episode struct {
	info      model.RunInfo
	proc      Process
	ctx       context.Context
	announced chan struct{} // RunStarted observers were called
	exited    chan struct{} // Wait returned
	done      chan struct{} // supervisor left Running for this episode
	result    model.RunResult

	stopRequested bool // guarded by Supervisor.mx
}

func NewSupervisor(cfg Config) *Supervisor {
	s := &Supervisor{
		config:        model.DefaultRunConfig(),
		launcher:      NewRunner(),
		command:       cfg.Cmd(),
		exe:           cfg.Executable(),
		buildCommand:  cfg.BuildCommand,
		configFile:    store.NewConfigFile(cfg.ConfigPath()),
		progress:      store.NewProgressFile(cfg.ProgressPath()),
		grace:         cfg.GracePeriod,
		killTimeout:   cfg.KillTimeout,
		startupWindow: cfg.StartupWindow,
	}
	if s.grace <= 0 {
		s.grace = 5 * time.Second
	}
	if s.killTimeout <= 0 {
		s.killTimeout = 2 * time.Second
	}
	return s
}

// WithLauncher replaces the os/exec launcher, used by tests.
func (s *Supervisor) WithLauncher(l Launcher) *Supervisor {
	s.launcher = l
	return s
}

func (s *Supervisor) WithObservers(observers ...Observer) *Supervisor {
	s.observers = append(s.observers, observers...)
	return s
}

// WithRunConfig sets the active RunConfig without persisting it.
func (s *Supervisor) WithRunConfig(c model.RunConfig) *Supervisor {
	s.config = c
	return s
}

func (s *Supervisor) ConfigFile() store.ConfigFile {
	return s.configFile
}

func (s *Supervisor) Progress() store.ProgressFile {
	return s.progress
}

// Executable reports the optimizer path and whether it exists.
func (s *Supervisor) Executable() (string, bool) {
	return s.exe, s.checkExecutable() == nil
}

// Start merges o into the active config, persists it and launches the
// optimizer. It does not wait for the run to finish.
func (s *Supervisor) Start(ctx context.Context, o model.Overrides) (model.RunConfig, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.current != nil {
		return s.config, model.ErrAlreadyRunning
	}
	if err := s.checkExecutable(); err != nil {
		return s.config, err
	}
	cfg := s.config.Merge(o)
	if err := cfg.Validate(); err != nil {
		return s.config, err
	}
	if err := s.configFile.Write(cfg); err != nil {
		return s.config, &model.Error{Kind: model.ErrLaunchFailure, Err: err}
	}
	s.config = cfg
	if err := s.progress.Truncate(); err != nil {
		return s.config, &model.Error{Kind: model.ErrLaunchFailure, Err: err}
	}

	id := uuid.NewString()
	rctx := log.ContextAttrs(context.WithoutCancel(ctx), slog.String("run_id", id))
	started := time.Now().UTC()
	proc, err := s.launcher.Launch(rctx, s.command, s.output)
	if err != nil {
		slog.ErrorContext(rctx, "optimizer launch failed", "path", s.command.Path, "error", err)
		s.last = &model.RunResult{
			RunInfo:   model.RunInfo{ID: id, Started: started, Config: cfg},
			Stopped:   time.Now().UTC(),
			ExitCode:  -1,
			Outcome:   model.OutcomeLaunchFailure,
			ErrorKind: model.Kind(model.ErrLaunchFailure),
			Error:     err.Error(),
		}
		return s.config, &model.Error{Kind: model.ErrLaunchFailure, Detail: s.command.Path, Err: err}
	}

	ep := &episode{
		info: model.RunInfo{
			ID:      id,
			PID:     proc.Pid(),
			Started: started,
			Config:  cfg,
		},
		proc:      proc,
		ctx:       log.ContextAttrs(rctx, slog.Int("pid", proc.Pid())),
		announced: make(chan struct{}),
		exited:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.current = ep
	s.wg.Go(func() { s.monitor(ep) })
	s.wg.Go(func() { s.announce(ep) })

	slog.InfoContext(ep.ctx, "optimizer started", "function", cfg.Function, "generations", cfg.Generations)
	return cfg, nil
}

func (s *Supervisor) checkExecutable() error {
	info, err := os.Stat(s.exe)
	switch {
	case err == nil && !info.IsDir():
		return nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return &model.Error{Kind: model.ErrLaunchFailure, Detail: s.exe, Err: err}
	}
	e := &model.Error{
		Kind:   model.ErrExecutableNotFound,
		Detail: s.exe,
		Hint:   "compile the optimizer before starting a run",
	}
	if s.buildCommand != "" {
		e.Command = s.buildCommand
		e.Hint = fmt.Sprintf("compile the optimizer in %s before starting a run", s.command.Dir)
	}
	return e
}

func (s *Supervisor) output(ctx context.Context, stream, line string) {
	slog.DebugContext(ctx, "optimizer output", "stream", stream, "line", line)
}

func (s *Supervisor) announce(ep *episode) {
	defer close(ep.announced)
	for _, o := range s.observers {
		o.RunStarted(ep.ctx, ep.info)
	}
}

// monitor waits for the child and moves the supervisor back to Idle.
func (s *Supervisor) monitor(ep *episode) {
	st := ep.proc.Wait()
	close(ep.exited)

	s.mx.Lock()
	if s.current != ep {
		s.mx.Unlock()
		slog.WarnContext(ep.ctx, "optimizer exited after it was given up", "exit_code", st.Code)
		return
	}
	res := s.classify(ep, st)
	s.settle(ep, res)
	s.mx.Unlock()

	s.finish(ep)
}

func (s *Supervisor) classify(ep *episode, st ExitStatus) model.RunResult {
	res := model.RunResult{
		RunInfo:       ep.info,
		Stopped:       st.Stopped,
		ExitCode:      st.Code,
		StopRequested: ep.stopRequested,
	}
	switch {
	case ep.stopRequested:
		res.Outcome = model.OutcomeStopped
	case st.Err == nil:
		res.Outcome = model.OutcomeCompleted
	case res.Duration() < s.startupWindow:
		res.Outcome = model.OutcomeLaunchFailure
		res.ErrorKind = model.Kind(model.ErrLaunchFailure)
		res.Error = st.Err.Error()
	default:
		res.Outcome = model.OutcomeFailed
		res.Error = st.Err.Error()
	}
	return res
}

// settle must be called with mx held.
func (s *Supervisor) settle(ep *episode, res model.RunResult) {
	ep.result = res
	s.current = nil
	s.last = &res
}

func (s *Supervisor) finish(ep *episode) {
	res := ep.result
	attrs := []any{"outcome", res.Outcome, "exit_code", res.ExitCode, "duration", res.Duration()}
	switch res.Outcome {
	case model.OutcomeCompleted, model.OutcomeStopped:
		slog.InfoContext(ep.ctx, "optimizer finished", attrs...)
	default:
		slog.ErrorContext(ep.ctx, "optimizer finished", append(attrs, "error", res.Error)...)
	}
	<-ep.announced
	for _, o := range s.observers {
		o.RunFinished(ep.ctx, res)
	}
	close(ep.done)
}

// Stop terminates the running optimizer and waits until it exited or ctx
// ended. The escalation continues in background when ctx ends first.
func (s *Supervisor) Stop(ctx context.Context) error {
	ep, err := s.requestStop()
	if err != nil {
		return err
	}
	select {
	case <-ep.done:
		if ep.result.Outcome == model.OutcomeTerminationFailure {
			return &model.Error{
				Kind:   model.ErrTerminationFailure,
				Detail: fmt.Sprintf("pid %d", ep.info.PID),
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAsync requests termination and returns immediately.
func (s *Supervisor) StopAsync() error {
	_, err := s.requestStop()
	return err
}

func (s *Supervisor) requestStop() (*episode, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	ep := s.current
	if ep == nil {
		return nil, model.ErrNotRunning
	}
	if !ep.stopRequested {
		ep.stopRequested = true
		slog.InfoContext(ep.ctx, "stopping optimizer")
		s.wg.Go(func() { s.terminate(ep) })
	}
	return ep, nil
}

// terminate escalates from a graceful request to a kill. When even the kill
// does not end the child, the supervisor gives it up and returns to Idle.
func (s *Supervisor) terminate(ep *episode) {
	if err := ep.proc.Terminate(); err != nil {
		slog.WarnContext(ep.ctx, "terminating optimizer", "error", err)
	}
	if waitFor(ep.exited, s.grace) {
		return
	}

	slog.WarnContext(ep.ctx, "optimizer ignored termination, killing", "grace_period", s.grace)
	if err := ep.proc.Kill(); err != nil {
		slog.ErrorContext(ep.ctx, "killing optimizer", "error", err)
	}
	if waitFor(ep.exited, s.killTimeout) {
		return
	}

	s.mx.Lock()
	if s.current != ep {
		s.mx.Unlock()
		return
	}
	now := time.Now().UTC()
	s.settle(ep, model.RunResult{
		RunInfo:       ep.info,
		Stopped:       now,
		ExitCode:      -1,
		StopRequested: true,
		Outcome:       model.OutcomeTerminationFailure,
		ErrorKind:     model.Kind(model.ErrTerminationFailure),
		Error:         fmt.Sprintf("process did not exit %s after kill", s.killTimeout),
	})
	s.mx.Unlock()

	slog.ErrorContext(ep.ctx, "optimizer may be orphaned", "pid", ep.info.PID)
	s.finish(ep)
}

func waitFor(ch <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}

// Status returns a snapshot. The progress count is read without the lock
// and may be slightly ahead of the other fields.
func (s *Supervisor) Status() model.Status {
	s.mx.Lock()
	st := model.Status{
		Running: s.current != nil,
		Config:  s.config,
	}
	if s.current != nil {
		info := s.current.info
		st.Run = &info
	}
	if s.last != nil {
		last := *s.last
		st.LastRun = &last
	}
	s.mx.Unlock()

	st.ProgressCount = s.progress.Count()
	return st
}

// Config returns the active RunConfig.
func (s *Supervisor) Config() model.RunConfig {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.config
}

// UpdateConfig merges o into the active config and persists it. The config
// is read only while a run is active.
func (s *Supervisor) UpdateConfig(ctx context.Context, o model.Overrides) (model.RunConfig, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.current != nil {
		return s.config, model.ErrConfigLocked
	}
	cfg := s.config.Merge(o)
	if err := cfg.Validate(); err != nil {
		return s.config, err
	}
	if err := s.configFile.Write(cfg); err != nil {
		return s.config, err
	}
	s.config = cfg
	slog.DebugContext(ctx, "config updated", "config", cfg)
	return cfg, nil
}

// Reset clears the progress of the previous run.
func (s *Supervisor) Reset(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.current != nil {
		return model.ErrAlreadyRunning
	}
	if err := s.progress.Truncate(); err != nil {
		return err
	}
	slog.DebugContext(ctx, "progress reset", "path", s.progress.Path())
	return nil
}

// Shutdown stops a running optimizer and waits for the background
// goroutines, both bounded by ctx.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	err := s.Stop(ctx)
	if errors.Is(err, model.ErrNotRunning) {
		err = nil
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, fmt.Errorf("waiting for supervisor: %w", ctx.Err()))
	}
	return err
}

var _ Launcher = (*Runner)(nil)
