package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/timvw/pane-pilot/internal/cache"
	"github.com/timvw/pane-pilot/internal/mux"
)

var flagSessionDir string

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create or kill tmux sessions",
}

var sessionNewCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Create a detached session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := getMultiplexer()
		if err != nil {
			return err
		}
		dir := flagSessionDir
		if dir == "" {
			if dir, err = os.Getwd(); err != nil {
				return err
			}
		}
		if err := createSession(cmd.Context(), m, newSessionCache(m, nil), args[0], dir); err != nil {
			return err
		}
		fmt.Println(args[0])
		return nil
	},
}

var sessionKillCmd = &cobra.Command{
	Use:   "kill <name>",
	Short: "Kill a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := getMultiplexer()
		if err != nil {
			return err
		}
		return killSession(cmd.Context(), m, newSessionCache(m, nil), args[0])
	},
}

func init() {
	sessionNewCmd.Flags().StringVar(&flagSessionDir, "dir", "", "working directory of the new session (default: current)")
	sessionCmd.AddCommand(sessionNewCmd, sessionKillCmd)
	rootCmd.AddCommand(sessionCmd)
}

// createSession creates name unless it exists, then drops cached topology.
func createSession(ctx context.Context, m mux.Multiplexer, c *cache.SessionCache, name, dir string) error {
	exists, err := m.HasSession(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("session %q already exists", name)
	}
	if err := m.NewSession(ctx, name, dir); err != nil {
		return fmt.Errorf("create session %q: %w", name, err)
	}
	c.InvalidateSession(name)
	return nil
}

// killSession destroys name and drops cached topology.
func killSession(ctx context.Context, m mux.Multiplexer, c *cache.SessionCache, name string) error {
	if err := m.KillSession(ctx, name); err != nil {
		return fmt.Errorf("kill session %q: %w", name, err)
	}
	c.InvalidateSession(name)
	return nil
}
