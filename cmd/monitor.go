package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/timvw/pane-pilot/internal/logging"
	"github.com/timvw/pane-pilot/internal/monitor"
)

var (
	flagTheme   string
	flagNoEmbed bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor [session...]",
	Short: "Run the pilot with an interactive status view",
	Long: `Start controllers exactly like "run", and show their live status in a
terminal UI. From the UI you can toggle auto-respond per session, stop or
restart a controller, start monitoring another session, and jump to a pane.

If not already running inside tmux, monitor re-launches itself in a new tmux
session so that jumping to panes works. Use --no-embed to disable this.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !flagNoEmbed {
			autoEmbedInTmux()
		}

		// Stderr belongs to the TUI; logs go to a file.
		if cfg.Log.File == "" {
			cfg.Log.File = filepath.Join(filepath.Dir(lockPath()), "monitor.log")
			logging.Init(logging.Config{
				File:       cfg.Log.File,
				Level:      cfg.Log.Level,
				Format:     cfg.Log.Format,
				MaxSizeMB:  cfg.Log.MaxSizeMB,
				MaxBackups: cfg.Log.MaxBackups,
			})
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
		defer stop()

		p, err := startPilot(ctx, args)
		if err != nil {
			return err
		}

		tui := &monitor.TUI{
			Source:          p.manager,
			RefreshInterval: monitor.DefaultRefreshInterval,
			Theme:           monitor.ThemeByName(flagTheme),
		}
		if p.hooks != nil {
			tui.Hooks = p.hooks
		}
		runErr := tui.Run(ctx)
		if err := p.shutdown(); err != nil && runErr == nil {
			runErr = err
		}
		return runErr
	},
}

func init() {
	monitorCmd.Flags().StringVar(&flagTheme, "theme", "dark", "color theme: dark, light")
	monitorCmd.Flags().BoolVar(&flagNoEmbed, "no-embed", false, "do not auto-embed in a tmux session")
	monitorCmd.Flags().StringVar(&flagPane, "pane", "", "pin the assistant pane (requires exactly one session)")
	monitorCmd.Flags().BoolVar(&flagNoFollow, "no-follow", false, "do not adopt sessions created after startup")
	rootCmd.AddCommand(monitorCmd)
}

// autoEmbedInTmux replaces the current process with tmux running the same
// command when not already inside tmux. On failure it warns and returns.
func autoEmbedInTmux() {
	if os.Getenv("TMUX") != "" {
		return
	}

	tmuxPath, err := exec.LookPath("tmux")
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: tmux not found in PATH, jumping to panes will not work\n")
		return
	}

	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not resolve executable path: %v\n", err)
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		wd = "/"
	}

	sessionName := "pane-pilot-monitor"
	if exec.Command(tmuxPath, "has-session", "-t", sessionName).Run() == nil {
		sessionName = ""
	}

	tmuxArgs := []string{"tmux", "new-session"}
	if sessionName != "" {
		tmuxArgs = append(tmuxArgs, "-s", sessionName)
	}
	tmuxArgs = append(tmuxArgs, "-c", wd, exe)
	tmuxArgs = append(tmuxArgs, os.Args[1:]...)

	if err := syscall.Exec(tmuxPath, tmuxArgs, os.Environ()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not auto-embed in tmux: %v\n", err)
		fmt.Fprintf(os.Stderr, "use --no-embed to suppress this warning\n")
	}
}
