package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [session...]",
	Short: "Answer assistant prompts in tmux sessions until interrupted",
	Long: `Start one controller per session. Each controller polls its assistant
pane, classifies the visible prompt and sends the configured response.

With no sessions named, every session not matched by exclude_sessions is
monitored, and sessions created later are adopted as they appear (disable
with --no-follow). Only one run or monitor may be active per user.

SIGINT or SIGTERM stops every controller gracefully; a response being
typed is always completed first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		p, err := startPilot(ctx, args)
		if err != nil {
			return err
		}
		p.log.Info("pilot_started", "sessions", len(p.manager.List()), "version", Version)

		<-ctx.Done()
		p.log.Info("pilot_stopping")
		return p.shutdown()
	},
}

func init() {
	runCmd.Flags().StringVar(&flagPane, "pane", "", "pin the assistant pane (requires exactly one session)")
	runCmd.Flags().BoolVar(&flagNoFollow, "no-follow", false, "do not adopt sessions created after startup")
	rootCmd.AddCommand(runCmd)
}
