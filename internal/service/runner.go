package service

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Output stream names passed to OutputFunc
const (
	Stdout = "stdout"
	Stderr = "stderr"
)

// OutputFunc receives the child output line by line.
type OutputFunc func(ctx context.Context, stream, line string)

type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string // appended to the parent environment
}

// ExitStatus is the terminal state of a child process.
type ExitStatus struct {
	Code    int // -1 when killed by a signal
	Stopped time.Time
	Err     error // nil for a clean exit
}

// Process is a launched child.
type Process interface {
	Pid() int
	// Terminate asks the child to exit. On platforms without a graceful
	// request it is the same as Kill.
	Terminate() error
	Kill() error
	// Wait blocks until the child exited and its output was drained.
	// It may be called more than once.
	Wait() ExitStatus
}

// Launcher starts child processes. The Supervisor never touches os/exec directly.
type Launcher interface {
	Launch(ctx context.Context, cmd Command, out OutputFunc) (Process, error)
}

// Runner is the os/exec backed Launcher.
type Runner struct {
	// WaitDelay bounds how long Wait keeps reading output of descendants
	// which outlived the child.
	WaitDelay time.Duration
}

func NewRunner() *Runner {
	return &Runner{WaitDelay: time.Second}
}

// Launch starts the command without waiting for it. The returned error is
// the synchronous start error, e.g. exec format error or permission denied.
func (r *Runner) Launch(ctx context.Context, proto Command, out OutputFunc) (Process, error) {
	// exec.CommandContext would kill the child when a request scoped
	// context ends, the lifetime is owned by the caller instead
	cmd := exec.Command(proto.Path, proto.Args...)
	cmd.Dir = proto.Dir
	if len(proto.Env) > 0 {
		cmd.Env = append(os.Environ(), proto.Env...)
	}
	cmd.WaitDelay = r.WaitDelay
	setProcAttr(cmd)

	p := &process{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	var outw, errw *io.PipeWriter
	if out != nil {
		var outr, errr *io.PipeReader
		outr, outw = io.Pipe()
		errr, errw = io.Pipe()
		cmd.Stdout = outw
		cmd.Stderr = errw
		p.drain.Go(func() { drain(ctx, outr, Stdout, out) })
		p.drain.Go(func() { drain(ctx, errr, Stderr, out) })
	}

	if err := cmd.Start(); err != nil {
		if out != nil {
			_ = outw.Close()
			_ = errw.Close()
			p.drain.Wait()
		}
		return nil, err
	}

	go func() {
		err := cmd.Wait()
		stopped := time.Now().UTC()
		if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() {
			// a descendant kept the output open, the child itself is fine
			slog.WarnContext(ctx, "output still open after exit", "error", err)
			err = nil
		}
		if out != nil {
			_ = outw.Close()
			_ = errw.Close()
			p.drain.Wait()
		}
		p.status = ExitStatus{
			Code:    cmd.ProcessState.ExitCode(),
			Stopped: stopped,
			Err:     err,
		}
		close(p.done)
	}()
	return p, nil
}

// drain reads r until EOF. After a scanner error the rest is discarded,
// the writer must never block.
func drain(ctx context.Context, r io.ReadCloser, stream string, out OutputFunc) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out(ctx, stream, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		slog.WarnContext(ctx, "processing output", "stream", stream, "error", err)
		_, _ = io.Copy(io.Discard, r)
	}
}

type process struct {
	cmd    *exec.Cmd
	drain  sync.WaitGroup
	done   chan struct{}
	status ExitStatus
}

func (p *process) Pid() int {
	return p.cmd.Process.Pid
}

func (p *process) Wait() ExitStatus {
	<-p.done
	return p.status
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *process) Terminate() error {
	if p.exited() {
		return nil
	}
	return ignoreDone(terminate(p.cmd))
}

func (p *process) Kill() error {
	if p.exited() {
		return nil
	}
	return ignoreDone(kill(p.cmd))
}

func ignoreDone(err error) error {
	if errors.Is(err, os.ErrProcessDone) || isNoSuchProcess(err) {
		return nil
	}
	return err
}
