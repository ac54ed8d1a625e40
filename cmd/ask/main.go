// Command ask sends one standalone prompt to Gemini and prints the reply.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"relay-backend/internal/config"
	"relay-backend/internal/logger"
	"relay-backend/internal/services"
)

func main() {
	if err := newAskCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newAskCommand() *cobra.Command {
	var (
		raw     bool
		timeout time.Duration
		width   int
	)

	cmd := &cobra.Command{
		Use:   "ask [prompt...]",
		Short: "Send a single prompt to " + services.GeminiModel,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			log := logger.New(false)
			defer log.Sync()

			gemini, err := services.NewGeminiService(cfg.GeminiAPIKey, 1, log)
			if err != nil {
				return err
			}
			defer gemini.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			reply, err := gemini.GenerateText(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}

			out, err := renderReply(reply, raw, width)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "print the reply without markdown rendering")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "maximum time to wait for the reply")
	cmd.Flags().IntVar(&width, "width", 100, "word wrap width for rendered output")

	return cmd
}

func renderReply(reply string, raw bool, width int) (string, error) {
	if raw {
		if !strings.HasSuffix(reply, "\n") {
			reply += "\n"
		}
		return reply, nil
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return r.Render(reply)
}
