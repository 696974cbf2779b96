package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/timvw/pane-pilot/internal/hooks"
)

var (
	flagHookAssistant string
	flagHookState     string
	flagHookTarget    string
	flagHookMessage   string
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Notify a running pilot of an assistant state change",
	Long: `Send a state event to the pilot's event socket. Wire this into the
assistant's hooks so a prompt is answered as soon as it appears instead of
on the next poll, e.g. for a notification hook:

  pane-pilot hook --assistant claude --state waiting_approval

The pane target defaults to the pane this command runs in. Delivery is
best effort: if no pilot is listening the event is dropped and the command
still succeeds.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		target := flagHookTarget
		if target == "" {
			target = currentPaneTarget()
		}
		ev := hooks.Event{
			Assistant: flagHookAssistant,
			State:     flagHookState,
			Target:    target,
			TS:        time.Now().UTC(),
			Message:   flagHookMessage,
		}
		if err := ev.Validate(); err != nil {
			return err
		}

		path := cfg.EventSocket
		if strings.EqualFold(path, "off") {
			return nil
		}
		if path == "" {
			path = hooks.DefaultSocketPath()
		}
		if err := hooks.Send(path, ev); err != nil {
			fmt.Fprintf(os.Stderr, "warning: event not delivered: %v\n", err)
		}
		return nil
	},
}

func init() {
	hookCmd.Flags().StringVar(&flagHookAssistant, "assistant", "claude", "assistant name")
	hookCmd.Flags().StringVar(&flagHookState, "state", hooks.StateWaitingInput, "state: waiting_input, waiting_approval, running, completed, error, idle")
	hookCmd.Flags().StringVar(&flagHookTarget, "target", "", "pane target (default: current tmux pane)")
	hookCmd.Flags().StringVar(&flagHookMessage, "message", "", "optional message")
	rootCmd.AddCommand(hookCmd)
}

// currentPaneTarget resolves TMUX_PANE to "session:window.pane".
func currentPaneTarget() string {
	paneID := os.Getenv("TMUX_PANE")
	if paneID == "" {
		return ""
	}
	out, err := exec.Command("tmux", "display-message", "-t", paneID,
		"-p", "#{session_name}:#{window_index}.#{pane_index}").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
