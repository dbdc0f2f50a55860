package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/evolab/gactl/internal/log"
	"github.com/evolab/gactl/internal/model"
	"github.com/evolab/gactl/internal/service"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const configEnv = "GACTLCONFIG"

var (
	userConfigPath string // /default/config/path/gactl on given OS
	configPath     string // actual config file used
	config         model.Config
	vconfig        *viper.Viper // optimizer section with GACTL_* overrides

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "gactl")

	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is gactl.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initGactl

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(functionsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("gactl failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "gactl",
	Short:        "Supervisor and HTTP control plane for a genetic algorithm optimizer",
	SilenceUsage: true,
}

var functionsCmd = &cobra.Command{
	Use:   "functions",
	Short: "list the fitness functions the optimizer understands",
	RunE: func(cmd *cobra.Command, _ []string) error {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer func() {
			_ = enc.Close()
		}()
		return enc.Encode(model.Functions())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a gactl",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("gactl: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("gactl:  %s\n", info.Main.Version)
		fmt.Printf("go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initGactl(cmd *cobra.Command, _ []string) error {
	// .env is optional, real environment wins
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	configPath = findConfig(flagConfigFilePath, userConfigPath, ".")

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig()
		configPath = filepath.Join(userConfigPath, "gactl.yaml")
		if err := storeConfig(configPath, config); err != nil {
			return err
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		config, err = model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error("invalid config", d.Attr("error"))
			}
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	vconfig = service.NewViper()
	vconfig.SetConfigFile(configPath)
	vconfig.SetConfigType("yaml")
	if err := vconfig.ReadInConfig(); err != nil {
		return fmt.Errorf("reading optimizer config: %w", err)
	}
	vconfig.SetDefault("service.listen", config.Service.Listen)
	if f := cmd.Flags().Lookup("listen"); f != nil {
		if err := vconfig.BindPFlag("service.listen", f); err != nil {
			return err
		}
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Service.Verbose = true
	}

	slog.SetDefault(log.New(config.Service.Verbose, os.Stderr))

	slog.Debug("gactl run", "configPath", configPath)
	slog.Debug("gactl run", "config", config)
	return nil
}

// findConfig returns the first of $GACTLCONFIG, --config and gactl.yaml in
// dirs. Empty means no config file exists yet.
func findConfig(flagPath string, dirs ...string) string {
	if envConfig, ok := os.LookupEnv(configEnv); ok {
		return envConfig
	}
	if flagPath != "" {
		return flagPath
	}
	for _, d := range dirs {
		path := filepath.Join(d, "gactl.yaml")
		if exists(path) {
			return path
		}
	}
	return ""
}

func storeConfig(path string, cfg model.Config) error {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
