package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/timvw/pane-pilot/internal/cache"
	"github.com/timvw/pane-pilot/internal/config"
	"github.com/timvw/pane-pilot/internal/model"
)

var (
	flagFilter   string
	flagListJSON bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions and their pane targets",
	Long: `List multiplexer sessions with their pane targets.

Each pane line is a target that can be passed to other commands (capture,
classify, advise). Sessions listed in exclude_sessions are hidden.
Optionally filter by session name using a regex pattern.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var re *regexp.Regexp
		if flagFilter != "" {
			var err error
			if re, err = regexp.Compile(flagFilter); err != nil {
				return fmt.Errorf("invalid filter: %w", err)
			}
		}

		m, err := getMultiplexer()
		if err != nil {
			return err
		}

		snap, err := newSessionCache(m, nil).Get(cmd.Context(), cache.KeyAllSessions)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}

		var sessions []model.Session
		for _, s := range snap.Sessions {
			if config.MatchesExcludeList(s.Name, cfg.ExcludeSessions) {
				continue
			}
			if re != nil && !re.MatchString(s.Name) {
				continue
			}
			sessions = append(sessions, s)
		}

		if flagListJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(sessions)
		}
		for _, s := range sessions {
			attached := ""
			if s.Attached {
				attached = " (attached)"
			}
			fmt.Printf("%s%s\n", s.Name, attached)
			for _, p := range s.Panes() {
				fmt.Printf("  %s\t%s\n", p.Target, p.Command)
			}
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&flagFilter, "filter", "", "regex pattern to filter by session name")
	listCmd.Flags().BoolVar(&flagListJSON, "json", false, "print the topology as JSON")
	rootCmd.AddCommand(listCmd)
}
