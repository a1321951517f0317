package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/relaykit/relay/internal/dispatcher"
	"github.com/relaykit/relay/pkg/models"
	"github.com/spf13/cobra"
)

// exit codes per spec.md §6: 0 success, 1 fatal init, 2 config error.
const (
	exitFatalInit = 1
	exitConfigErr = 2
)

const defaultChannel = models.ChannelAPI

func buildDispatchCmd(configPath *string) *cobra.Command {
	var (
		channelType string
		channelID   string
		userID      string
		text        string
	)

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run one turn of the orchestrated tool loop for a single message",
		Long: `Dispatch normalizes a single inbound message and runs it through the
bounded tool loop to completion (or to a waiting-for-user/cancelled/
max-iterations terminal state), printing the resulting text.

This is the CLI-first surface the expanded spec calls for in place of
channel adapters: each invocation is one NormalizedMessage in, one
DispatchResult out.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(*configPath)
			if err != nil {
				cmd.SilenceUsage = true
				fmt.Fprintln(os.Stderr, err)
				var cerr *configErr
				if errors.As(err, &cerr) {
					os.Exit(exitConfigErr)
				}
				os.Exit(exitFatalInit)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			msg := &dispatcher.NormalizedMessage{
				ChannelType: channelType,
				ChannelID:   channelID,
				ChatID:      channelID,
				UserID:      userID,
				Text:        text,
			}

			result := rt.Dispatcher.Dispatch(ctx, msg)
			return printResult(cmd, result)
		},
	}

	cmd.Flags().StringVar(&channelType, "channel", string(defaultChannel), "Channel type for the synthetic inbound message")
	cmd.Flags().StringVar(&channelID, "channel-id", "cli-session", "Channel/session identifier")
	cmd.Flags().StringVar(&userID, "user-id", "cli-user", "Creator identity for a freshly created session")
	cmd.Flags().StringVar(&text, "text", "", "Message text to dispatch (required)")
	cmd.MarkFlagRequired("text")

	return cmd
}

func printResult(cmd *cobra.Command, result *dispatcher.DispatchResult) error {
	if result == nil {
		return fmt.Errorf("dispatcher returned no result")
	}
	if result.Err != nil {
		fmt.Fprintln(os.Stderr, result.Err)
		os.Exit(exitFatalInit)
		return nil
	}
	if result.WasCancelled {
		cmd.Println("(session cancelled)")
		return nil
	}
	if result.AlreadyDeliveredViaSay {
		cmd.Println("(delivered via say_to_user)")
		return nil
	}
	if result.Text != "" {
		cmd.Println(result.Text)
	}
	return nil
}
