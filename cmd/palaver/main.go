package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/palaver/internal/config"
	"github.com/ehrlich-b/palaver/internal/logger"
)

var (
	configFlag   string
	logLevelFlag string
	logFileFlag  string
)

func main() {
	root := &cobra.Command{
		Use:           "palaver",
		Short:         "palaver — autonomous multi-party AI debate engine",
		Long:          "Runs debates where AI agents and humans speak when they decide to, not when a turn order says so.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "path to config file (yaml)")
	root.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFileFlag, "log-file", "", "also write logs to this file")

	root.AddCommand(
		runCmd(),
		serveCmd(),
		topicsCmd(),
		sessionsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file (or the built-in defaults) and
// initializes logging: flags override the config's logging section.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configFlag != "" {
		cfg, err = config.Load(configFlag)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	level := cfg.Logging.Level
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	file := cfg.Logging.File
	if logFileFlag != "" {
		file = logFileFlag
	}
	if err := logger.Init(level, file); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return cfg, nil
}
