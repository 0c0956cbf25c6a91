package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/imagecache/internal/logger"
	"github.com/marmos91/imagecache/pkg/config"
	"github.com/marmos91/imagecache/pkg/daemon"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the imagecached daemon",
	Long: `Start the imagecached daemon with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/imagecache/config.yaml.

Examples:
  # Start with default config
  imagecached start

  # Start with custom config file
  imagecached start --config /etc/imagecache/config.yaml

  # Start with environment variable overrides
  IMAGECACHE_LOGGING_LEVEL=DEBUG imagecached start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("starting imagecached", "version", Version)
	logger.Info("configuration loaded", "source", getConfigSource(GetConfigFile()))

	d, err := daemon.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("imagecached is running. Press Ctrl+C to stop.")
	<-sigChan
	signal.Stop(sigChan)
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := d.Close(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}
	logger.Info("imagecached stopped gracefully")

	return nil
}
