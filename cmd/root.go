package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ellavondegurechaff/redpacket/redpacket"
	"github.com/ellavondegurechaff/redpacket/redpacket/logger"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"

	configPath string
)

var rootCmd = &cobra.Command{
	Use:           "redpacket",
	Short:         "Red envelope allocation and grab engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "path to config")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// loadConfig reads the config file and installs the configured logger.
func loadConfig() (*redpacket.Config, error) {
	cfg, err := redpacket.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger.New(os.Stdout, cfg.Log.Level, cfg.Log.Format, cfg.Log.AddSource))
	slog.Info("Configuration loaded successfully",
		slog.String("type", "sys"),
		slog.String("path", configPath))
	return cfg, nil
}
