package service_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/evolab/gactl/internal/model"
	"github.com/evolab/gactl/internal/service"

	"github.com/stretchr/testify/require"
)

func lookupSh(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("skipped, shell stubs need a unix shell")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

type lines struct {
	mx  sync.Mutex
	got map[string][]string
}

func (l *lines) add(_ context.Context, stream, line string) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.got == nil {
		l.got = make(map[string][]string)
	}
	l.got[stream] = append(l.got[stream], line)
}

func TestRunner(t *testing.T) {
	t.Parallel()
	sh := lookupSh(t)

	var out lines
	r := service.NewRunner()
	p, err := r.Launch(t.Context(), service.Command{
		Path: sh,
		Args: []string{"-c", "echo out; echo err 1>&2; echo err2 1>&2; exit 3"},
	}, out.add)
	require.NoError(t, err)
	require.NotZero(t, p.Pid())

	st := p.Wait()
	require.Equal(t, 3, st.Code)
	require.Error(t, st.Err)
	var exitErr *exec.ExitError
	require.ErrorAs(t, st.Err, &exitErr)
	require.NotZero(t, st.Stopped)

	// output is drained before Wait returns
	require.Equal(t, []string{"out"}, out.got[service.Stdout])
	require.Equal(t, []string{"err", "err2"}, out.got[service.Stderr])

	// second Wait returns the same status, signals after exit are no-ops
	require.Equal(t, st, p.Wait())
	require.NoError(t, p.Terminate())
	require.NoError(t, p.Kill())
}

func TestRunner_NoOutput(t *testing.T) {
	t.Parallel()
	sh := lookupSh(t)

	p, err := service.NewRunner().Launch(t.Context(), service.Command{
		Path: sh,
		Args: []string{"-c", "exit 0"},
	}, nil)
	require.NoError(t, err)
	st := p.Wait()
	require.NoError(t, st.Err)
	require.Zero(t, st.Code)
}

func TestRunner_ExecError(t *testing.T) {
	t.Parallel()
	var out lines
	_, err := service.NewRunner().Launch(t.Context(), service.Command{
		Path: filepath.Join(t.TempDir(), "does-not-exist"),
	}, out.add)
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunner_Terminate(t *testing.T) {
	t.Parallel()
	sh := lookupSh(t)

	p, err := service.NewRunner().Launch(t.Context(), service.Command{
		Path: sh,
		Args: []string{"-c", "exec sleep 30"},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, p.Terminate())
	st := p.Wait()
	require.Equal(t, -1, st.Code)
	require.Error(t, st.Err)
}

func TestRunner_Dir(t *testing.T) {
	t.Parallel()
	sh := lookupSh(t)
	dir := t.TempDir()

	var out lines
	p, err := service.NewRunner().Launch(t.Context(), service.Command{
		Path: sh,
		Args: []string{"-c", "pwd; echo $GACTL_TEST"},
		Dir:  dir,
		Env:  []string{"GACTL_TEST=hello"},
	}, out.add)
	require.NoError(t, err)
	require.NoError(t, p.Wait().Err)

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	require.Len(t, out.got[service.Stdout], 2)
	got, err := filepath.EvalSymlinks(out.got[service.Stdout][0])
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, "hello", out.got[service.Stdout][1])
}

// writeStub installs a shell script as the optimizer executable.
func writeStub(t *testing.T, cfg service.Config, body string) {
	t.Helper()
	script := "#!" + lookupSh(t) + "\n" + body
	require.NoError(t, os.WriteFile(cfg.Executable(), []byte(script), 0o755))
}

func TestSupervisor_Process(t *testing.T) {
	t.Parallel()

	t.Run("runs to completion", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(t)
		writeStub(t, cfg, `
test -f config.txt || exit 2
echo "generation,best_fitness,avg_fitness,worst_fitness,diversity" > output.csv
i=0
while [ $i -lt 3 ]; do
  echo "$i,1.5,2.5,3.5,0.5" >> output.csv
  i=$((i+1))
done
echo "Function: rastrigin"
`)
		s := service.NewSupervisor(cfg)
		_, err := s.Start(t.Context(), model.Overrides{Generations: model.Ptr(3)})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return !s.Status().Running
		}, 5*time.Second, 10*time.Millisecond)

		st := s.Status()
		require.Equal(t, 3, st.ProgressCount)
		require.Equal(t, model.OutcomeCompleted, st.LastRun.Outcome)
		require.Zero(t, st.LastRun.ExitCode)
		require.NoError(t, s.Shutdown(t.Context()))
	})

	t.Run("stop", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(t)
		cfg.GracePeriod = 5 * time.Second
		writeStub(t, cfg, "exec sleep 30\n")
		s := service.NewSupervisor(cfg)

		_, err := s.Start(t.Context(), model.Overrides{})
		require.NoError(t, err)

		begin := time.Now()
		require.NoError(t, s.Stop(t.Context()))
		require.Less(t, time.Since(begin), cfg.GracePeriod)
		require.Equal(t, model.OutcomeStopped, s.Status().LastRun.Outcome)
		require.NoError(t, s.Shutdown(t.Context()))
	})

	t.Run("ignores SIGTERM", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(t)
		cfg.GracePeriod = 100 * time.Millisecond
		cfg.KillTimeout = 5 * time.Second
		writeStub(t, cfg, "trap '' TERM\nwhile :; do sleep 1; done\n")
		s := service.NewSupervisor(cfg)

		_, err := s.Start(t.Context(), model.Overrides{})
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond) // let the trap install

		begin := time.Now()
		require.NoError(t, s.Stop(t.Context()))
		require.GreaterOrEqual(t, time.Since(begin), cfg.GracePeriod)
		last := s.Status().LastRun
		require.Equal(t, model.OutcomeStopped, last.Outcome)
		require.Equal(t, -1, last.ExitCode)
		require.NoError(t, s.Shutdown(t.Context()))
	})
}
