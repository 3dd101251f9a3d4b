package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/careops/surveyci/internal/pipeline"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show run status from the local store",
	Long: `List runs from ~/.surveyci/runs, or show the stage-by-stage result of a
single run when a run ID is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := pipeline.DefaultStore()
		if err != nil {
			return fmt.Errorf("store: %w", err)
		}

		if len(args) == 1 {
			run, err := store.Get(args[0])
			if err != nil {
				return err
			}
			printRun(cmd.OutOrStdout(), run)
			return nil
		}

		branch, _ := cmd.Flags().GetString("branch")
		status, _ := cmd.Flags().GetString("status")

		runs, err := store.List(branch, pipeline.Status(status))
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no runs")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tBRANCH\tEVENT\tSTATUS\tUPDATED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Branch, r.Event, r.Status, r.UpdatedAt)
		}
		return w.Flush()
	},
}

func init() {
	statusCmd.Flags().String("branch", "", "Filter by branch")
	statusCmd.Flags().String("status", "", "Filter by status (pending, running, success, failed, unstable)")
}
