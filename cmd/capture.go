package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/timvw/pane-pilot/internal/controller"
)

var captureCmd = &cobra.Command{
	Use:   "capture <target>",
	Short: "Capture the content of a pane",
	Long: `Capture the last capture_lines lines of a tmux pane and print them to stdout.

The target format is session:window.pane (e.g., "mysession:0.0") or a pane
id (e.g., "%3"). This is pure transport; the content is not interpreted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[0]

		m, err := getMultiplexer()
		if err != nil {
			return err
		}

		reader := controller.NewReader(m)
		reader.Lines = cfg.CaptureLines
		reader.Timeout = cfg.CaptureTimeoutDuration

		content, err := reader.Capture(cmd.Context(), target)
		if err != nil {
			return fmt.Errorf("failed to capture pane %q: %w", target, err)
		}

		fmt.Fprint(os.Stdout, content)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(captureCmd)
}
