package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/careops/surveyci/internal/approval"
	"github.com/careops/surveyci/internal/config"
	"github.com/careops/surveyci/internal/notify"
	"github.com/careops/surveyci/internal/orchestrator"
	"github.com/careops/surveyci/internal/pipeline"
	"github.com/careops/surveyci/internal/step"
	"github.com/careops/surveyci/internal/telemetry"
	"github.com/careops/surveyci/internal/trigger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Trigger a pipeline run and execute it in-process",
	Long: `Trigger a manual pipeline run and execute it to completion in the current
process. Production approval is prompted on stdin.

Exits non-zero when the run fails; unstable runs exit zero.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		branch, _ := cmd.Flags().GetString("branch")
		commit, _ := cmd.Flags().GetString("commit")
		event, _ := cmd.Flags().GetString("event")
		deployEnv, _ := cmd.Flags().GetString("deploy-env")
		skipTests, _ := cmd.Flags().GetBool("skip-tests")
		forceRebuild, _ := cmd.Flags().GetBool("force-rebuild")
		cfgPath, _ := cmd.Flags().GetString("config")

		logger := telemetry.SetupLogger()

		cfg, err := loadConfig(cfgPath)
		if err != nil {
			return err
		}
		store, err := pipeline.DefaultStore()
		if err != nil {
			return fmt.Errorf("store: %w", err)
		}

		tr := trigger.New(pipeline.EventKind(event), branch, commit, pipeline.Params{
			DeployEnvironment: deployEnv,
			SkipTests:         skipTests,
			ForceRebuild:      forceRebuild,
		})
		if err := tr.Validate(); err != nil {
			return err
		}

		broker := approval.NewBroker()
		broker.SetHandler(stdinApprovalHandler(cmd.OutOrStdout(), broker))

		orc := orchestrator.New(orchestrator.Config{
			Pipeline:  &cfg.Pipeline,
			Store:     store,
			Steps:     step.NewRunner(&step.ExecRunner{}),
			Approvals: broker,
			Notifier:  notify.NewFanout(logger, buildSinks(&cfg.Pipeline, logger)...),
			Logger:    logger,
		})

		buildNum, err := nextBuildNumber(store)
		if err != nil {
			return err
		}
		run := pipeline.NewRun(buildNum, tr.Branch, tr.Commit, tr.Kind, tr.Params)

		if err := orc.Run(cmd.Context(), run); err != nil {
			return err
		}

		printRun(cmd.OutOrStdout(), run)
		if run.Status == pipeline.StatusFailed {
			return fmt.Errorf("run %s failed", run.ID)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("branch", "main", "Branch to build")
	runCmd.Flags().String("commit", "HEAD", "Commit to build")
	runCmd.Flags().String("event", "manual", "Trigger event kind (push, pull_request, schedule, manual)")
	runCmd.Flags().String("deploy-env", "none", "Deploy environment parameter (none, staging, production)")
	runCmd.Flags().Bool("skip-tests", false, "Skip the test stages")
	runCmd.Flags().Bool("force-rebuild", false, "Force a rebuild without caches")
	runCmd.Flags().String("config", "", "Pipeline config path (default: pipeline.yaml)")
}

func loadConfig(path string) (*config.PipelineConfig, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadDefault()
}

// nextBuildNumber scans the local store for the highest build number.
// In serve mode the counter is seeded from postgres instead.
func nextBuildNumber(store *pipeline.Store) (int, error) {
	runs, err := store.List("", "")
	if err != nil {
		return 0, fmt.Errorf("list runs: %w", err)
	}
	max := 0
	for _, r := range runs {
		if r.BuildNumber > max {
			max = r.BuildNumber
		}
	}
	return max + 1, nil
}

// stdinApprovalHandler prompts the operator when a production gate opens
// and resolves the gate with their answers.
func stdinApprovalHandler(out io.Writer, broker *approval.Broker) approval.Handler {
	return func(req approval.Request) {
		scanner := bufio.NewScanner(os.Stdin)
		readLine := func() string {
			if scanner.Scan() {
				return strings.TrimSpace(scanner.Text())
			}
			return ""
		}

		fmt.Fprintf(out, "\n%s\n", req.Prompt)
		fmt.Fprintf(out, "Approve? [y/N]: ")
		if answer := strings.ToLower(readLine()); answer != "y" && answer != "yes" {
			broker.Resolve(req.RunID, approval.Decision{Approved: false})
			return
		}

		fmt.Fprintf(out, "Your name: ")
		approver := readLine()

		fmt.Fprintf(out, "Deployment strategy (%s) [rolling]: ", strings.Join(req.Choices, ", "))
		strategy := readLine()
		if strategy == "" {
			strategy = "rolling"
		}
		if err := trigger.ValidateStrategy(strategy); err != nil {
			fmt.Fprintf(out, "%v, using rolling\n", err)
			strategy = "rolling"
		}

		fmt.Fprintf(out, "Backup before deploy? [y/N]: ")
		backup := strings.ToLower(readLine())

		broker.Resolve(req.RunID, approval.Decision{
			Approved: true,
			Approver: approver,
			Strategy: strategy,
			Backup:   backup == "y" || backup == "yes",
		})
	}
}

func printRun(out io.Writer, run *pipeline.Run) {
	fmt.Fprintf(out, "\nrun %s on %s: %s\n", run.ID, run.Branch, run.Status)
	for _, s := range run.Stages {
		line := fmt.Sprintf("  %-20s %s", s.Name, s.Status)
		if s.Reason != "" {
			line += "  (" + s.Reason + ")"
		}
		fmt.Fprintln(out, line)
	}
	if run.Description != "" {
		fmt.Fprintln(out, run.Description)
	}
}
