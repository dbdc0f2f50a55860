package main

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/evolab/gactl/internal/model"
	"github.com/evolab/gactl/internal/service"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func unsetConfigEnv(t *testing.T) {
	t.Helper()
	t.Setenv(configEnv, "")
	require.NoError(t, os.Unsetenv(configEnv))
}

func TestFindConfig(t *testing.T) {
	unsetConfigEnv(t)
	user := t.TempDir()
	cwd := t.TempDir()

	require.Empty(t, findConfig("", user, cwd))

	require.NoError(t, os.WriteFile(filepath.Join(cwd, "gactl.yaml"), []byte("version: 0\n"), 0o644))
	require.Equal(t, filepath.Join(cwd, "gactl.yaml"), findConfig("", user, cwd))

	require.NoError(t, os.WriteFile(filepath.Join(user, "gactl.yaml"), []byte("version: 0\n"), 0o644))
	require.Equal(t, filepath.Join(user, "gactl.yaml"), findConfig("", user, cwd))

	require.Equal(t, "flag.yaml", findConfig("flag.yaml", user, cwd))

	t.Setenv(configEnv, "env.yaml")
	require.Equal(t, "env.yaml", findConfig("flag.yaml", user, cwd))
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	require.False(t, exists(dir))
	require.False(t, exists(filepath.Join(dir, "nope")))
	path := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	require.True(t, exists(path))
}

func TestStoreConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "gactl.yaml")
	require.NoError(t, storeConfig(path, model.DefaultConfig()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() {
		_ = f.Close()
	}()
	cfg, err := model.LoadConfig(f)
	require.NoError(t, err)
	require.Equal(t, model.DefaultConfig(), cfg)
}

func TestFunctionsCmd(t *testing.T) {
	unsetConfigEnv(t)
	path := filepath.Join(t.TempDir(), "gactl.yaml")
	require.NoError(t, storeConfig(path, model.DefaultConfig()))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"functions", "--config", path})
	require.NoError(t, rootCmd.ExecuteContext(t.Context()))

	var got []model.FitnessFunction
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &got))
	require.Len(t, got, len(model.Functions()))
	require.Equal(t, "rastrigin", got[0].Name)
}

func TestRunCmd(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stub needs a unix shell")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not found")
	}
	unsetConfigEnv(t)

	dir := t.TempDir()
	engine := filepath.Join(dir, "engine")
	require.NoError(t, os.Mkdir(engine, 0o755))
	stub := "#!" + sh + `
grep -q '^generations=3$' config.txt || exit 3
echo "generation,best_fitness,avg_fitness,worst_fitness,diversity" > output.csv
echo "0,1.5,2.5,3.5,0.5" >> output.csv
`
	require.NoError(t, os.WriteFile(filepath.Join(engine, "optimizer"), []byte(stub), 0o755))

	cfg := model.DefaultConfig()
	cfg.Optimizer.Dir = engine
	cfg.Optimizer.Binary = "optimizer"
	cfg.Optimizer.StartupWindow = "0s"
	cfg.Service.History = filepath.Join(dir, "runs.db")
	path := filepath.Join(dir, "gactl.yaml")
	require.NoError(t, storeConfig(path, cfg))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"run", "--config", path, "--generations", "3"})
	require.NoError(t, rootCmd.ExecuteContext(t.Context()))

	var res model.RunResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.Equal(t, model.OutcomeCompleted, res.Outcome)
	require.Equal(t, 3, res.Config.Generations)
	require.NotEmpty(t, res.ID)

	_, err = os.Stat(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
}

func TestNewSupervisor_Resume(t *testing.T) {
	config = model.DefaultConfig()
	cfg := service.Config{
		Dir:          t.TempDir(),
		Binary:       "optimizer",
		ConfigFile:   "config.txt",
		ProgressFile: "output.csv",
		GracePeriod:  time.Second,
		KillTimeout:  time.Second,
	}

	// nothing persisted yet
	require.Equal(t, config.InitialRunConfig(), newSupervisor(t.Context(), cfg).Config())

	persisted := "popSize=80\ngenerations=200\nfunction=sphere\nminBound=-100\nmaxBound=100\n"
	require.NoError(t, os.WriteFile(cfg.ConfigPath(), []byte(persisted), 0o644))
	got := newSupervisor(t.Context(), cfg).Config()
	require.Equal(t, 80, got.PopSize)
	require.Equal(t, 200, got.Generations)
	require.Equal(t, "sphere", got.Function)
	require.Equal(t, -100.0, got.MinBound)
	require.Equal(t, 100.0, got.MaxBound)
	require.Equal(t, model.DefaultRunConfig().MutationRate, got.MutationRate)

	// an invalid file is ignored
	require.NoError(t, os.WriteFile(cfg.ConfigPath(), []byte("popSize=1\n"), 0o644))
	require.Equal(t, config.InitialRunConfig(), newSupervisor(t.Context(), cfg).Config())
}
