package service_test

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/evolab/gactl/internal/model"
	"github.com/evolab/gactl/internal/service"

	"github.com/stretchr/testify/require"
)

const engineConfig = `
optimizer:
  dir: /opt/engine
  binary: ga-optimizer
  args:
    - --seed
    - "42"
  env:
    OMP_NUM_THREADS: "4"
    HOME: $HOME
  grace_period: 10s
  startup_window: 500ms
`

func TestParseConfig(t *testing.T) {
	// can't be parallel as it sets environment variables
	t.Setenv("HOME", "/home/ga")
	t.Setenv("GACTL_OPTIMIZER_KILL_TIMEOUT", "3s")

	v := service.NewViper()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(engineConfig)))

	cfg, err := service.ParseConfig(v)
	require.NoError(t, err)
	t.Logf("got: %+v", cfg)

	require.Equal(t, "/opt/engine", cfg.Dir)
	require.Equal(t, "ga-optimizer", cfg.Binary)
	require.Equal(t, []string{"--seed", "42"}, cfg.Args)
	require.Equal(t, 10*time.Second, cfg.GracePeriod)
	require.Equal(t, 3*time.Second, cfg.KillTimeout)
	require.Equal(t, 500*time.Millisecond, cfg.StartupWindow)
	require.Equal(t, "config.txt", cfg.ConfigFile)
	require.Equal(t, "output.csv", cfg.ProgressFile)

	t.Run("paths", func(t *testing.T) {
		require.Equal(t, filepath.Join("/opt/engine", "ga-optimizer"), cfg.Executable())
		require.Equal(t, filepath.Join("/opt/engine", "config.txt"), cfg.ConfigPath())
		require.Equal(t, filepath.Join("/opt/engine", "output.csv"), cfg.ProgressPath())
	})

	t.Run("cmd", func(t *testing.T) {
		cmd := cfg.Cmd()
		require.Equal(t, cfg.Executable(), cmd.Path)
		require.Equal(t, cfg.Args, cmd.Args)
		require.Equal(t, "/opt/engine", cmd.Dir)
		require.ElementsMatch(t, []string{"OMP_NUM_THREADS=4", "HOME=/home/ga"}, cmd.Env)
	})
}

func TestParseConfig_Defaults(t *testing.T) {
	t.Setenv("GACTL_OPTIMIZER_DIR", "/srv/engine")

	cfg, err := service.ParseConfig(service.NewViper())
	require.NoError(t, err)

	def := model.DefaultConfig().Optimizer
	require.Equal(t, "/srv/engine", cfg.Dir)
	require.Equal(t, def.Binary, cfg.Binary)
	require.Equal(t, 5*time.Second, cfg.GracePeriod)
	require.Equal(t, 2*time.Second, cfg.KillTimeout)
	require.Equal(t, time.Second, cfg.StartupWindow)
	require.Equal(t, def.BuildCommand, cfg.BuildCommand)
}

func TestParseConfig_Invalid(t *testing.T) {
	t.Parallel()
	v := service.NewViper()
	v.Set("optimizer.grace_period", "0s")
	_, err := service.ParseConfig(v)
	require.EqualError(t, err, "optimizer.grace_period: must be positive, got 0s")
}
