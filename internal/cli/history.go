package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/careops/surveyci/internal/db"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show run history from postgres",
	Long: `List recent runs recorded in postgres, or the full event trail of a
single run when a run ID is given. Requires SURVEYCI_DB_URL or a local
database.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		database, err := db.Open(ctx, db.DefaultDSN())
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer database.Close()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

		if len(args) == 1 {
			events, err := database.RunHistory(ctx, args[0])
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no events for run", args[0])
				return nil
			}
			fmt.Fprintln(w, "TIME\tEVENT\tSTAGE\tDETAIL")
			for _, e := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					e.CreatedAt.Format(time.RFC3339), e.Event, e.Stage, e.Detail)
			}
			return w.Flush()
		}

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := database.RecentRuns(ctx, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no recorded runs")
			return nil
		}
		fmt.Fprintln(w, "RUN\tBRANCH\tEVENT\tSTATUS\tAPPROVER\tSTARTED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.RunID, r.Branch, r.Event, r.Status, r.Approver,
				r.StartedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "Maximum runs to list")
}
