// Package cli implements the surveyci command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "surveyci",
	Short: "surveyci is the CI/CD pipeline for the patient survey platform",
	Long: `surveyci builds, tests and deploys the patient survey platform through a
configurable staged pipeline with branch gating, a manual production
approval gate, and per-branch run supersession.

Run state is stored in ~/.surveyci/runs (JSON); long-term history and the
survey schema live in postgres.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
}
