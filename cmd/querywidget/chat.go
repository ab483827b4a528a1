package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to a chat backend through the widget in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cmd); err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("base-url") {
			cfg.Widget.BaseURL, _ = flags.GetString("base-url")
		}
		if flags.Changed("chatbot-id") {
			cfg.ChatbotID, _ = flags.GetString("chatbot-id")
		}
		if flags.Changed("name") {
			cfg.Widget.Name, _ = flags.GetString("name")
		}
		if flags.Changed("markdown") {
			cfg.Markdown, _ = flags.GetString("markdown")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		// The console owns stdout; logs only go to the file.
		if err := setup(ctx); err != nil {
			return err
		}
		defer teardown()

		console, err := NewConsole(cfg, os.Stdin, os.Stdout, logger)
		if err != nil {
			return err
		}
		return console.Run(ctx)
	},
}

func init() {
	chatCmd.Flags().String("base-url", "", "Chat backend origin")
	chatCmd.Flags().String("chatbot-id", "", "Chatbot to talk to")
	chatCmd.Flags().String("name", "", "Widget display name")
	chatCmd.Flags().String("markdown", "", "Markdown engine (goldmark|gomarkdown)")
	rootCmd.AddCommand(chatCmd)
}
