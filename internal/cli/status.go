package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/flyingrobots/data-deploy/internal/config"
	"github.com/flyingrobots/data-deploy/internal/metrics"
	"github.com/flyingrobots/data-deploy/internal/store"
	"github.com/spf13/cobra"
)

// statusCmd is grounded on the teacher's status command: the same
// tabwriter-rendered table with a --format json escape hatch.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent deployment history for the configured environment",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadDefault()
		if err != nil {
			return err
		}

		dbPath, err := store.DefaultPath()
		if err != nil {
			return err
		}
		db, err := store.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return fmt.Errorf("migrate bookkeeping store: %w", err)
		}

		limit, _ := cmd.Flags().GetInt("limit")
		history, err := db.History(cfg.Deployment.Environment, limit)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, history)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		if len(history) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No deployments found.")
			return nil
		}
		fmt.Fprintln(w, "MIGRATION\tTAG\tPHASE\tOUTCOME\tOPS\tCOVERAGE\tSTARTED")
		for _, d := range history {
			coverage := "-"
			if d.CoveragePct != nil {
				coverage = fmt.Sprintf("%d%%", *d.CoveragePct)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				d.MigrationID, d.Tag, d.Phase, d.Outcome, d.Operations, coverage, d.StartedAt)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if analytics, _ := cmd.Flags().GetBool("analytics"); analytics {
			return printAnalytics(cmd, db, cfg.Deployment.Environment)
		}
		return nil
	},
}

func printAnalytics(cmd *cobra.Command, db *store.Store, environment string) error {
	w := cmd.OutOrStdout()

	durations, err := metrics.QueryPhaseDurations(db, environment)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "\nphase durations (seconds):")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tCOUNT\tAVG\tP50\tP95")
	for _, d := range durations {
		fmt.Fprintf(tw, "%s\t%d\t%.1f\t%.1f\t%.1f\n", d.Phase, d.Count, d.Avg, d.P50, d.P95)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	rate, err := metrics.QueryBypassRate(db, environment)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nbypass rate: %d/%d (%.1f%%)\n", rate.Bypassed, rate.Total, rate.RatePct)
	return nil
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func init() {
	statusCmd.Flags().String("format", "text", "Output format: text or json")
	statusCmd.Flags().Int("limit", 20, "maximum number of deployments to show")
	statusCmd.Flags().Bool("analytics", false, "include phase-duration and bypass-rate analytics")
}
