package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/timvw/pane-pilot/internal/advisor"
	"github.com/timvw/pane-pilot/internal/cache"
	"github.com/timvw/pane-pilot/internal/config"
	"github.com/timvw/pane-pilot/internal/controller"
	"github.com/timvw/pane-pilot/internal/model"
)

var adviseCmd = &cobra.Command{
	Use:   "advise <target>",
	Short: "Ask an LLM what a pane is waiting for",
	Long: `Capture a pane and ask the configured LLM provider whether the assistant
in it is waiting for input, and what it would answer.

The advice is printed as JSON and nothing is sent to the pane. Use it to
find prompts the pattern table does not cover yet.

Provider settings come from the advisor section of the config file or from
PANE_PILOT_ADVISOR_* variables; API keys fall back to AZURE_OPENAI_API_KEY,
ANTHROPIC_API_KEY or OPENAI_API_KEY.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[0]
		ctx := cmd.Context()

		if cfg.Advisor.APIKey == "" {
			return fmt.Errorf("no API key found. Set PANE_PILOT_ADVISOR_API_KEY, AZURE_OPENAI_API_KEY, ANTHROPIC_API_KEY or OPENAI_API_KEY")
		}

		tel := initTelemetry(ctx)
		defer tel.Shutdown(ctx)

		m, err := getMultiplexer()
		if err != nil {
			return err
		}

		// Process metadata helps the model tell the assistant from a shell.
		pane := model.Pane{Target: target}
		if snap, err := newSessionCache(m, nil).Get(ctx, cache.SessionKey(model.SessionOf(target))); err == nil {
			if sess, ok := snap.Session(model.SessionOf(target)); ok {
				if p, ok := sess.FindPane(target); ok {
					pane = p
				}
			}
		}

		reader := controller.NewReader(m)
		reader.Lines = cfg.CaptureLines
		reader.Timeout = cfg.CaptureTimeoutDuration
		content, err := reader.Capture(ctx, target)
		if err != nil {
			return fmt.Errorf("failed to capture pane %q: %w", target, err)
		}

		headers := map[string]string{}
		if config.IsAzureEndpoint(cfg.Advisor.BaseURL) {
			headers["api-key"] = cfg.Advisor.APIKey
		}
		adv, err := advisor.New(advisor.Config{
			Provider:     cfg.Advisor.Provider,
			Model:        cfg.Advisor.Model,
			BaseURL:      cfg.Advisor.BaseURL,
			APIKey:       cfg.Advisor.APIKey,
			MaxTokens:    cfg.Advisor.MaxTokens,
			ExtraHeaders: headers,
			Metrics:      metricsOf(tel),
		})
		if err != nil {
			return err
		}

		advice, err := adv.Advise(ctx, model.BuildProcessHeader(pane)+content)
		if err != nil {
			return fmt.Errorf("advise %s: %w", target, err)
		}

		out := struct {
			Target   string `json:"target"`
			Provider string `json:"provider"`
			Model    string `json:"model"`
			*advisor.Advice
			Usage advisor.TokenUsage `json:"usage"`
		}{target, adv.Provider(), adv.Model(), advice, advice.Usage}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(adviseCmd)
}
