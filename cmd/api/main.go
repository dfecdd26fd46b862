package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"specsync/api/internal/config"
	"specsync/api/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:           "specsync",
	Short:         "SpecSync cloud sync service",
	Long:          `SpecSync stores spec, plan and tasks documents per project and reconciles concurrent edits from many clients.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "specsync:", err)
		os.Exit(1)
	}
}

// bootstrap loads the configuration and builds the logger every command uses.
func bootstrap() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Dev)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}
