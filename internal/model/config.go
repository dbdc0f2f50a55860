package model

import (
	"fmt"
	"io"
	"runtime"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	ServiceModeManual = "manual"
	ServiceModeTimer  = "timer"

	DefaultListen = "127.0.0.1:5000"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

// Config is the gactl daemon configuration file.
type Config struct {
	Version   int        `json:"version" yaml:"version"` // fixed 0 for now
	Service   Service    `json:"service" yaml:"service"`
	Optimizer *Optimizer `json:"optimizer,omitempty" yaml:"optimizer,omitempty"`
	Defaults  *Overrides `json:"defaults,omitempty" yaml:"defaults,omitempty"` // initial RunConfig
}

type Service struct {
	Mode     string    `json:"mode" yaml:"mode"` // "manual" | "timer"
	Verbose  bool      `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	Listen   string    `json:"listen" yaml:"listen"`
	History  string    `json:"history,omitempty" yaml:"history,omitempty"` // sqlite path, empty disables
	Schedule *Schedule `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

// Schedule triggers runs in timer mode. Exactly one field is expected.
type Schedule struct {
	Cron     string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"` // ISO-8601, e.g. PT1H
}

// Optimizer is the on-disk form of the external executable settings.
// Durations stay strings here, they are decoded by service.ParseConfig.
type Optimizer struct {
	Dir           string            `json:"dir,omitempty" yaml:"dir,omitempty"`
	Binary        string            `json:"binary,omitempty" yaml:"binary,omitempty"`
	Args          []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env           map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	ConfigFile    string            `json:"config_file,omitempty" yaml:"config_file,omitempty"`
	ProgressFile  string            `json:"progress_file,omitempty" yaml:"progress_file,omitempty"`
	GracePeriod   string            `json:"grace_period,omitempty" yaml:"grace_period,omitempty"`
	KillTimeout   string            `json:"kill_timeout,omitempty" yaml:"kill_timeout,omitempty"`
	StartupWindow string            `json:"startup_window,omitempty" yaml:"startup_window,omitempty"`
	BuildCommand  string            `json:"build_command,omitempty" yaml:"build_command,omitempty"`
}

// DefaultBinary is the optimizer file name on the current platform.
func DefaultBinary() string {
	if runtime.GOOS == "windows" {
		return "optimizer.exe"
	}
	return "optimizer"
}

// DefaultConfig is stored when no configuration file exists.
func DefaultConfig() Config {
	return Config{
		Version: 0,
		Service: Service{
			Mode:   ServiceModeManual,
			Listen: DefaultListen,
		},
		Optimizer: &Optimizer{
			Dir:           "engine",
			Binary:        DefaultBinary(),
			ConfigFile:    "config.txt",
			ProgressFile:  "output.csv",
			GracePeriod:   "5s",
			KillTimeout:   "2s",
			StartupWindow: "1s",
			BuildCommand:  "g++ -O2 -std=c++17 -o " + DefaultBinary() + " optimizer.cpp",
		},
	}
}

// LoadConfig validates YAML from r against the CUE schema and decodes it.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("gactl.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),
		cue.Concrete(true),
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	if err := out.check(); err != nil {
		return Config{}, err
	}
	return out, nil
}

// check covers the rules the schema can't express.
func (c Config) check() error {
	if c.Service.Mode == ServiceModeTimer && c.Service.Schedule == nil {
		return fmt.Errorf("service.schedule: %w", ErrEmptySchedule)
	}
	if c.Service.Schedule != nil {
		if err := c.Service.Schedule.Validate(); err != nil {
			return fmt.Errorf("service.%w", err)
		}
	}
	if c.Defaults != nil {
		if err := DefaultRunConfig().Merge(*c.Defaults).Validate(); err != nil {
			return fmt.Errorf("defaults: %w", err)
		}
	}
	return nil
}

// InitialRunConfig is the RunConfig used before any start request.
func (c Config) InitialRunConfig() RunConfig {
	rc := DefaultRunConfig()
	if c.Defaults != nil {
		rc = rc.Merge(*c.Defaults)
	}
	return rc
}
