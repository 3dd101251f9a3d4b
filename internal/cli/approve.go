package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/careops/surveyci/internal/approval"
	"github.com/careops/surveyci/internal/trigger"
)

var approveCmd = &cobra.Command{
	Use:   "approve [run-id]",
	Short: "Resolve a pending production approval on the server",
	Long: `Approve or reject a pending production deployment gate on a running
surveyci server. Without a run ID, the single pending gate is resolved;
with multiple gates pending the run ID is required.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		reject, _ := cmd.Flags().GetBool("reject")
		approver, _ := cmd.Flags().GetString("approver")
		strategy, _ := cmd.Flags().GetString("strategy")
		backup, _ := cmd.Flags().GetBool("backup")

		if !reject {
			if approver == "" {
				return fmt.Errorf("--approver is required")
			}
			if err := trigger.ValidateStrategy(strategy); err != nil {
				return err
			}
		}

		client := &http.Client{Timeout: 10 * time.Second}

		runID := ""
		if len(args) == 1 {
			runID = args[0]
		} else {
			var err error
			if runID, err = solePendingRun(client, server); err != nil {
				return err
			}
		}

		body, _ := json.Marshal(map[string]any{
			"approved":             !reject,
			"approver":             approver,
			"strategy":             strategy,
			"backup_before_deploy": backup,
		})
		resp, err := client.Post(
			server+"/api/runs/"+runID+"/approval", "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("post approval: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("server returned %s: %s", resp.Status, msg)
		}

		if reject {
			fmt.Fprintf(cmd.OutOrStdout(), "rejected deployment for run %s\n", runID)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "approved deployment for run %s (%s, backup=%t)\n",
				runID, strategy, backup)
		}
		return nil
	},
}

func init() {
	approveCmd.Flags().String("server", "http://localhost:8080", "surveyci server URL")
	approveCmd.Flags().Bool("reject", false, "Reject instead of approve")
	approveCmd.Flags().String("approver", "", "Name of the approver")
	approveCmd.Flags().String("strategy", "rolling", "Deployment strategy (rolling, blue-green, immediate)")
	approveCmd.Flags().Bool("backup", false, "Take a backup before deploying")
}

// solePendingRun fetches the pending approvals and returns the run ID when
// exactly one gate is open.
func solePendingRun(client *http.Client, server string) (string, error) {
	resp, err := client.Get(server + "/api/approvals")
	if err != nil {
		return "", fmt.Errorf("list approvals: %w", err)
	}
	defer resp.Body.Close()

	var pending []approval.Request
	if err := json.NewDecoder(resp.Body).Decode(&pending); err != nil {
		return "", fmt.Errorf("decode approvals: %w", err)
	}

	switch len(pending) {
	case 0:
		return "", fmt.Errorf("no pending approvals")
	case 1:
		return pending[0].RunID, nil
	default:
		ids := make([]string, len(pending))
		for i, p := range pending {
			ids[i] = p.RunID
		}
		return "", fmt.Errorf("multiple pending approvals, specify a run ID: %v", ids)
	}
}
