package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/timvw/pane-pilot/internal/controller"
	"github.com/timvw/pane-pilot/internal/prompt"
)

// classifyResult is the JSON output of the classify command.
type classifyResult struct {
	Target   string        `json:"target,omitempty"`
	Matched  bool          `json:"matched"`
	Match    *prompt.Match `json:"match,omitempty"`
	Response string        `json:"response,omitempty"`
}

var classifyCmd = &cobra.Command{
	Use:   "classify [target]",
	Short: "Classify the prompt visible in a pane or on stdin",
	Long: `Run the prompt pattern table against a pane's content, or against stdin
when no target is given, and print the result as JSON.

The response shown includes configured overrides. Nothing is sent to the pane.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			text   string
			target string
		)
		if len(args) == 1 {
			target = args[0]
			m, err := getMultiplexer()
			if err != nil {
				return err
			}
			reader := controller.NewReader(m)
			reader.Lines = cfg.CaptureLines
			reader.Timeout = cfg.CaptureTimeoutDuration
			text, err = reader.Capture(cmd.Context(), target)
			if err != nil {
				return fmt.Errorf("failed to capture pane %q: %w", target, err)
			}
		} else {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			text = string(b)
		}

		res := classifyResult{Target: target}
		if match, ok := newClassifier().Classify(text); ok {
			match = cfg.Overrides.Apply(match)
			res.Matched = true
			res.Match = &match
			res.Response = match.Response
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}
