package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/timvw/pane-pilot/internal/health"
)

var flagHealthJSON bool

var healthCmd = &cobra.Command{
	Use:   "health <scores.yaml>",
	Short: "Aggregate per-category project scores into one health score",
	Long: `Read a YAML mapping of category to score (0-100) and print the weighted
overall score and its band.

Categories: build, tests, dependencies, security, performance, code_quality,
git, documentation. Every category must be present. Weights and band
thresholds come from the health section of the config file. Use "-" to read
scores from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			data []byte
			err  error
		)
		if args[0] == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("read scores: %w", err)
		}

		scores, err := health.ParseScores(data)
		if err != nil {
			return err
		}
		scorer, err := cfg.HealthScorer()
		if err != nil {
			return err
		}
		overall, err := scorer.Aggregate(scores)
		if err != nil {
			return err
		}

		if flagHealthJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(overall)
		}

		fmt.Printf("Overall: %.2f (%s)\n\n", overall.Score, overall.Band)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CATEGORY\tSCORE\tWEIGHT\tBAND")
		for _, r := range health.SortedByWeight(overall.Categories) {
			fmt.Fprintf(w, "%s\t%.1f\t%.1f%%\t%s\n", r.Name, r.Score, r.Weight*100, r.Band)
		}
		return w.Flush()
	},
}

func init() {
	healthCmd.Flags().BoolVar(&flagHealthJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(healthCmd)
}
