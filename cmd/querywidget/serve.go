package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"QueryWidget/internal/devserver"
	"QueryWidget/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the development chat backend",
	Long: `Starts a local backend implementing /chat/ and /chat/feedback/, storing
conversations in SQLite and serving the widget page at /widget/{chatbot_id}.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cmd); err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("addr") {
			cfg.Server.Addr, _ = flags.GetString("addr")
		}
		if flags.Changed("db") {
			cfg.Server.DBPath, _ = flags.GetString("db")
		}
		if flags.Changed("rate") {
			cfg.Server.RatePerMinute, _ = flags.GetInt("rate")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := setup(ctx, os.Stderr); err != nil {
			return err
		}
		defer teardown()

		store, err := devserver.OpenStore(cfg.Server.DBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer store.Close()

		srv := devserver.New(cfg, store,
			devserver.WithLogger(logger),
			devserver.WithTracer(telemetry.Tracer()),
		)
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address")
	serveCmd.Flags().String("db", "", "SQLite database path")
	serveCmd.Flags().Int("rate", 0, "Messages per minute per conversation (0 disables)")
	rootCmd.AddCommand(serveCmd)
}
