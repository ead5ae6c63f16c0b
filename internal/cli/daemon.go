package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/app"
	"github.com/kai-familiar/marmot-cli/internal/apperrors"
	"github.com/kai-familiar/marmot-cli/internal/config"
	"github.com/kai-familiar/marmot-cli/pkg/logger"
)

type daemon interface {
	Run(ctx context.Context) error
	Shutdown() error
}

func newRelayCommand(_ *rootOptions) *cobra.Command {
	var (
		cfgPath     string
		printConfig bool
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Consume notifications from Kafka and run an on-message command for each",
		Long: `Reads the topic the kafka handler publishes to and hands every notification
to dispatch.on_message exactly as marmot-cli would: one process, the document
on stdin. A delivery ledger keeps any message id from being handed over twice.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadRelay(config.ResolvePath(cfgPath))
			if err != nil {
				return apperrors.Config(err)
			}

			log, err := setupDaemonLogger(&cfg.Logger, printConfig, cfg)
			if err != nil {
				return err
			}

			relay, err := app.NewRelay(cfg, log)
			if err != nil {
				log.Error("Failed to initialize relay", zap.Error(err))
				return fmt.Errorf("failed to initialize relay: %w", err)
			}

			return runDaemon(cmd.Context(), log, relay)
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "YAML config file (env CONFIG_PATH)")
	cmd.Flags().BoolVar(&printConfig, "print-config", false, "print the resolved config to stderr before starting")

	return cmd
}

func newInboxCommand(_ *rootOptions) *cobra.Command {
	var (
		cfgPath     string
		printConfig bool
	)

	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Receive notifications from the webhook handler over HTTP",
		Long: `Serves POST <base>/notifications for the webhook handler, streams accepted
notifications to websocket clients on <base>/notifications/ws and, when
dispatch.on_message is set, runs it once per new message id.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadInbox(config.ResolvePath(cfgPath))
			if err != nil {
				return apperrors.Config(err)
			}

			log, err := setupDaemonLogger(&cfg.Logger, printConfig, cfg)
			if err != nil {
				return err
			}

			inbox, err := app.NewInbox(cfg, log)
			if err != nil {
				log.Error("Failed to initialize inbox", zap.Error(err))
				return fmt.Errorf("failed to initialize inbox: %w", err)
			}

			return runDaemon(cmd.Context(), log, inbox)
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "YAML config file (env CONFIG_PATH)")
	cmd.Flags().BoolVar(&printConfig, "print-config", false, "print the resolved config to stderr before starting")

	return cmd
}

func setupDaemonLogger(cfg *config.Logger, printConfig bool, full any) (*zap.Logger, error) {
	if printConfig {
		if err := config.PrintConfig(full); err != nil {
			return nil, fmt.Errorf("failed to print config: %w", err)
		}
	}

	log, err := logger.SetupLogger(&logger.Config{
		Level:      cfg.Level,
		FormatJSON: cfg.FormatJSON,
		Rotation: logger.Rotation{
			File:       cfg.Rotation.File,
			MaxSize:    cfg.Rotation.MaxSize,
			MaxBackups: cfg.Rotation.MaxBackups,
			MaxAge:     cfg.Rotation.MaxAge,
		},
	})
	if err != nil {
		return nil, apperrors.Config(err)
	}

	return log, nil
}

// runDaemon runs d until ctx is canceled or d fails, then shuts it down.
func runDaemon(ctx context.Context, log *zap.Logger, d daemon) error {
	errs := make(chan error, 1)

	go func() { errs <- d.Run(ctx) }()

	var runErr error

	select {
	case runErr = <-errs:
		if runErr != nil {
			log.Error("Server error, shutting down...", zap.Error(runErr))
		}
	case <-ctx.Done():
		log.Info("Received stop signal, shutting down...")
	}

	if err := d.Shutdown(); err != nil {
		log.Error("Failed to shutdown application", zap.Error(err))
		runErr = errors.Join(runErr, err)
	}

	log.Info("Application has shutdown")

	if err := log.Sync(); err != nil {
		log.Debug("Failed to sync logger", zap.Error(err))
	}

	return runErr
}
