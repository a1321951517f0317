package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/relaykit/relay/internal/cron"
	"github.com/relaykit/relay/internal/triggers"
	"github.com/relaykit/relay/internal/workspace"
	"github.com/spf13/cobra"
)

// buildTriggersCmd starts the cron scheduler and blocks until interrupted,
// running every configured heartbeat/scheduled trigger through the
// dispatcher as they come due. This is the long-lived counterpart to
// dispatch's one-shot invocation.
func buildTriggersCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "triggers",
		Short: "Run scheduled triggers (cron jobs) against the dispatcher until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(*configPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(exitFatalInit)
				return nil
			}
			if !rt.Config.Cron.Enabled {
				cmd.Println("cron is disabled in config; nothing to run")
				return nil
			}

			scheduler, err := cron.NewScheduler(rt.Config.Cron,
				cron.WithAgentRunner(&triggers.DispatchAgentRunner{Dispatcher: rt.Dispatcher}),
			)
			if err != nil {
				return fmt.Errorf("building trigger scheduler: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if rt.Config.Workspace.Enabled {
				loaderCfg := workspace.LoaderConfigFromConfig(rt.Config)
				watcher := workspace.NewWatcher(loaderCfg, 0, func(wc *workspace.WorkspaceContext) {
					slog.Info("workspace files reloaded", "root", loaderCfg.Root)
				})
				if err := watcher.Start(ctx); err != nil {
					slog.Warn("workspace watcher failed to start", "error", err)
				} else {
					defer watcher.Close()
				}
			}

			if err := scheduler.Start(ctx); err != nil {
				return fmt.Errorf("starting trigger scheduler: %w", err)
			}
			cmd.Printf("triggers running, %d job(s) configured\n", len(scheduler.Jobs()))

			<-ctx.Done()
			return scheduler.Stop(cmd.Context())
		},
	}
}
