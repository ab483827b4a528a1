package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"QueryWidget/internal/config"
	"QueryWidget/internal/telemetry"
)

var (
	cfgFile string
	cfg     config.Config

	logger  *slog.Logger
	cleanup []func()
)

var rootCmd = &cobra.Command{
	Use:   "querywidget",
	Short: "Embeddable support chat widget and its development backend",
	Long: `querywidget drives the QuerySafe chat widget: a console session against a
chat backend, or a local backend that speaks the same protocol.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "TOML config file")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("log-dir", "", "Directory for logs, traces and metrics")
}

// loadConfig applies defaults, the config file, the environment and finally any
// flags set on cmd.
func loadConfig(cmd *cobra.Command) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("debug") {
		cfg.Debug, _ = flags.GetBool("debug")
	}
	if flags.Changed("log-dir") {
		cfg.LogDir, _ = flags.GetString("log-dir")
	}
	return nil
}

// setup initializes logging and telemetry. Log records also go to extra.
func setup(ctx context.Context, extra ...io.Writer) error {
	var closer io.Closer
	var err error
	logger, closer, err = telemetry.InitLogger(cfg.LogDir, cfg.Debug, extra...)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	cleanup = append(cleanup, func() { closer.Close() })
	slog.SetDefault(logger)

	_, _, shutdown, err := telemetry.InitTelemetry(ctx, cfg.LogDir, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	cleanup = append(cleanup, shutdown)

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}
	return nil
}

// teardown flushes telemetry and closes the log file, newest first.
func teardown() {
	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
	cleanup = nil
}
