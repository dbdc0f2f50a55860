package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evolab/gactl/internal/model"
	"github.com/spf13/viper"
)

// Config describes how the optimizer executable is found and supervised.
type Config struct {
	Dir           string            `mapstructure:"dir"`
	Binary        string            `mapstructure:"binary"`
	Args          []string          `mapstructure:"args"`
	Env           map[string]string `mapstructure:"env"`
	ConfigFile    string            `mapstructure:"config_file"`
	ProgressFile  string            `mapstructure:"progress_file"`
	GracePeriod   time.Duration     `mapstructure:"grace_period"`
	KillTimeout   time.Duration     `mapstructure:"kill_timeout"`
	StartupWindow time.Duration     `mapstructure:"startup_window"`
	BuildCommand  string            `mapstructure:"build_command"`
}

// EnvPrefix is the prefix of environment overrides, e.g. GACTL_OPTIMIZER_DIR.
const EnvPrefix = "gactl"

// NewViper returns a viper instance with the optimizer defaults and
// environment overrides registered.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := model.DefaultConfig().Optimizer
	v.SetDefault("optimizer.dir", def.Dir)
	v.SetDefault("optimizer.binary", def.Binary)
	v.SetDefault("optimizer.args", []string{})
	v.SetDefault("optimizer.env", map[string]string{})
	v.SetDefault("optimizer.config_file", def.ConfigFile)
	v.SetDefault("optimizer.progress_file", def.ProgressFile)
	v.SetDefault("optimizer.grace_period", def.GracePeriod)
	v.SetDefault("optimizer.kill_timeout", def.KillTimeout)
	v.SetDefault("optimizer.startup_window", def.StartupWindow)
	v.SetDefault("optimizer.build_command", def.BuildCommand)
	return v
}

// ParseConfig decodes the optimizer section of v.
func ParseConfig(v *viper.Viper) (Config, error) {
	var wrap struct {
		Optimizer Config `mapstructure:"optimizer"`
	}
	if err := v.Unmarshal(&wrap); err != nil {
		return Config{}, fmt.Errorf("parsing optimizer config: %w", err)
	}
	cfg := wrap.Optimizer
	switch {
	case cfg.Binary == "":
		return Config{}, fmt.Errorf("optimizer.binary: empty")
	case cfg.GracePeriod <= 0:
		return Config{}, fmt.Errorf("optimizer.grace_period: must be positive, got %s", cfg.GracePeriod)
	case cfg.KillTimeout <= 0:
		return Config{}, fmt.Errorf("optimizer.kill_timeout: must be positive, got %s", cfg.KillTimeout)
	case cfg.StartupWindow < 0:
		return Config{}, fmt.Errorf("optimizer.startup_window: negative")
	}
	return cfg, nil
}

func (c Config) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Dir, name)
}

// Executable is the path of the optimizer binary.
func (c Config) Executable() string {
	return c.path(c.Binary)
}

func (c Config) ConfigPath() string {
	return c.path(c.ConfigFile)
}

func (c Config) ProgressPath() string {
	return c.path(c.ProgressFile)
}

// Cmd is the command the Supervisor launches. The working directory is the
// engine directory as the optimizer opens its files by relative name.
func (c Config) Cmd() Command {
	exe := c.Executable()
	if abs, err := filepath.Abs(exe); err == nil {
		exe = abs
	}
	env := make([]string, 0, len(c.Env))
	for k, v := range c.Env {
		if strings.HasPrefix(v, "$") {
			v = os.ExpandEnv(v)
		}
		env = append(env, strings.ToUpper(k)+"="+v)
	}
	return Command{
		Path: exe,
		Args: c.Args,
		Dir:  c.Dir,
		Env:  env,
	}
}
