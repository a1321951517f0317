// Package main provides the CLI entry point for relay, a multi-channel
// agent runtime driving a bounded LLM+tool loop under capability and
// safety policy, backed by hybrid memory search and x402 payments.
//
// # Basic usage
//
//	relay dispatch --text "hello" --channel-id cli-session-1
//	relay version
//
// Configuration is loaded from --config (default relay.yaml) with
// environment variable overrides, matching the teacher's own
// load-then-override pipeline.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/relaykit/relay/internal/observability"
	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := applyLogLevel("info")

	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		logger.Error(context.Background(), "command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string
	var logLevel string

	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "relay agent runtime",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			applyLogLevel(logLevel)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "relay.yaml", "Path to YAML configuration file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	cmd.AddCommand(buildVersionCmd())
	cmd.AddCommand(buildDispatchCmd(&configPath))
	cmd.AddCommand(buildTriggersCmd(&configPath))

	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Printf("relay %s (commit %s, built %s)\n", version, commit, date)
			return nil
		},
	}
}

// applyLogLevel rebuilds the structured, secret-redacting logger at the
// requested level and installs it as both the CLI's own logger and the
// slog package default, so teacher-derived packages that still log via
// the plain slog.* package funcs pick up the same level and format.
func applyLogLevel(level string) *observability.Logger {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: "json",
		Output: os.Stderr,
	})
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: observability.LogLevelFromString(level)})))
	return logger
}
