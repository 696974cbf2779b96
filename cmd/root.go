package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/timvw/pane-pilot/internal/cache"
	"github.com/timvw/pane-pilot/internal/config"
	"github.com/timvw/pane-pilot/internal/controller"
	"github.com/timvw/pane-pilot/internal/dispatch"
	"github.com/timvw/pane-pilot/internal/logging"
	"github.com/timvw/pane-pilot/internal/mux"
	telem "github.com/timvw/pane-pilot/internal/otel"
	"github.com/timvw/pane-pilot/internal/prompt"
)

var (
	// Global flags.
	flagConfig   string
	flagMux      string
	flagLogLevel string

	// cfg is loaded once before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pane-pilot",
	Short: "Answer recurring prompts of terminal coding assistants in tmux",
	Long: `pane-pilot watches tmux sessions running an interactive coding assistant
and answers its recurring confirmation prompts (trust dialogs, yes/no
questions, numbered menus) with configured keystrokes.

Prompts are recognised by an ordered table of text patterns; the first
match wins. Nothing is sent for text that matches no pattern.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadFrom(flagConfig)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if flagMux != "" {
			cfg.Mux = flagMux
		}
		if flagLogLevel != "" {
			cfg.Log.Level = flagLogLevel
		}
		logging.Init(logging.Config{
			File:       cfg.Log.File,
			Level:      cfg.Log.Level,
			Format:     cfg.Log.Format,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		})
		if cfg.ConfigFile != "" {
			logging.ForComponent(logging.CompCLI).Debug("config_loaded", "path", cfg.ConfigFile)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Shutdown()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: .pane-pilot.yaml, then ~/.config/pane-pilot/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagMux, "mux", "", "terminal multiplexer: tmux (default: auto-detect)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
}

// getMultiplexer returns the configured or auto-detected multiplexer.
func getMultiplexer() (mux.Multiplexer, error) {
	if cfg != nil && cfg.Mux != "" {
		return mux.FromName(cfg.Mux)
	}
	return mux.Detect()
}

// initTelemetry starts OTEL. Failure is a warning; the returned value is
// always safe to Shutdown.
func initTelemetry(ctx context.Context) *telem.Telemetry {
	telem.Version = Version
	tel, err := telem.Init(ctx, telem.Config{
		Endpoint: cfg.OTELEndpoint,
		Headers:  cfg.OTELHeaders,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: otel init failed: %v\n", err)
		return nil
	}
	return tel
}

func metricsOf(tel *telem.Telemetry) *telem.Metrics {
	if tel == nil {
		return nil
	}
	return tel.Metrics
}

// newSessionCache builds the topology cache from configuration.
func newSessionCache(m mux.Multiplexer, metrics *telem.Metrics) *cache.SessionCache {
	c := cache.NewSessionCache(m, cfg.CacheTTLDuration, cfg.CacheGraceDuration)
	c.Metrics = metrics
	return c
}

// newClassifier builds the default pattern classifier with the configured window.
func newClassifier() *prompt.Classifier {
	c := prompt.NewClassifier(prompt.DefaultTable())
	c.Window = cfg.ClassifyWindow
	return c
}

// newDeps wires controller collaborators from configuration.
func newDeps(m mux.Multiplexer, metrics *telem.Metrics, sink dispatch.Sink) controller.Deps {
	reader := controller.NewReader(m)
	reader.Lines = cfg.CaptureLines
	reader.Timeout = cfg.CaptureTimeoutDuration

	d := dispatch.New(m)
	d.Attempts = cfg.SendAttempts
	d.Backoff = cfg.SendBackoffDuration
	d.SendTimeout = cfg.SendTimeoutDuration
	d.Limiter = rate.NewLimiter(rate.Limit(cfg.DispatchRate), cfg.DispatchBurst)
	d.History = dispatch.NewHistory(cfg.HistorySize)
	d.Metrics = metrics
	d.Sink = sink

	return controller.Deps{
		Cache:      newSessionCache(m, metrics),
		Reader:     reader,
		Classifier: newClassifier(),
		Dispatcher: d,
		Metrics:    metrics,
	}
}

// controllerOptions returns the per-controller defaults from configuration.
func controllerOptions() controller.Options {
	return controller.Options{
		PollInterval: cfg.PollDuration,
		MaxFailures:  cfg.MaxFailures,
		AutoRespond:  cfg.AutoRespondEnabled(),
		Overrides:    cfg.Overrides,
	}
}
