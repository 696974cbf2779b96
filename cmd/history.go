package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/timvw/pane-pilot/internal/audit"
)

var (
	flagHistorySession string
	flagHistorySince   time.Duration
	flagHistoryLimit   int
	flagHistoryFailed  bool
	flagHistoryJSON    bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show responses recorded in the audit database",
	Long: `Print dispatch records from the audit database (audit_db in the config
file, or PANE_PILOT_AUDIT_DB), oldest first.

The database is written by "run" and "monitor" and can be read while they
are running.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.AuditDB == "" {
			return fmt.Errorf("no audit database configured (set audit_db or PANE_PILOT_AUDIT_DB)")
		}
		store, err := audit.Open(cfg.AuditDB)
		if err != nil {
			return err
		}
		defer store.Close()

		q := audit.Query{
			Session:    flagHistorySession,
			Limit:      flagHistoryLimit,
			FailedOnly: flagHistoryFailed,
		}
		if flagHistorySince > 0 {
			q.Since = time.Now().Add(-flagHistorySince)
		}
		records, err := store.Recent(cmd.Context(), q)
		if err != nil {
			return err
		}

		if flagHistoryJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tTARGET\tKIND\tPATTERN\tKEYS\tRESULT")
		for _, r := range records {
			result := "ok"
			if !r.OK() {
				result = r.Err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%q\t%s\n",
				r.Time.Local().Format(time.DateTime), r.Target, r.Kind, r.PatternID, r.Keys, result)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().StringVar(&flagHistorySession, "session", "", "only records of this session")
	historyCmd.Flags().DurationVar(&flagHistorySince, "since", 0, "only records newer than this (e.g., 1h)")
	historyCmd.Flags().IntVar(&flagHistoryLimit, "limit", 100, "maximum number of records")
	historyCmd.Flags().BoolVar(&flagHistoryFailed, "failed", false, "only failed dispatches")
	historyCmd.Flags().BoolVar(&flagHistoryJSON, "json", false, "print records as JSON")
	rootCmd.AddCommand(historyCmd)
}
