package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cardkeeper/cardkeeper"
	"github.com/cardkeeper/cardkeeper/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the daemon",
	Long:  `Start the cardkeeper daemon. This is typically invoked by an init system.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("starting cardkeeper daemon",
		"config", cfgFile,
		"mount_path", cfg.MountPath,
		"folders", len(cfg.Folders),
	)

	manager, err := cardkeeper.Init(logger, cfg)
	if err != nil {
		return fmt.Errorf("initializing storage manager: %w", err)
	}
	defer manager.Deinit()

	if cfgFile != "" {
		if err := config.Watch(cfgFile, manager.ApplyConfig); err != nil {
			logger.Warn("config hot-reload disabled", "error", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("received signal, initiating graceful shutdown")
	return nil
}
