package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Pipeline configuration tools",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate a pipeline config",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		cfg, err := loadConfig(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config ok: pipeline %q, %d stages, %d schedules\n",
			cfg.Pipeline.Name, len(cfg.Pipeline.Stages), len(cfg.Pipeline.Schedules))
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "Show the resolved stage list",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		cfg, err := loadConfig(path)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STAGE\tWHEN\tON_FAIL\tFLAGS\tSTEPS")
		for _, s := range cfg.Pipeline.Stages {
			var flags []string
			if s.Parallel {
				flags = append(flags, "parallel")
			}
			if s.AlwaysRun {
				flags = append(flags, "always_run")
			}
			if s.Production {
				flags = append(flags, "production")
			}
			if len(s.Requires) > 0 {
				flags = append(flags, "requires="+strings.Join(s.Requires, ","))
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
				s.Name, s.When.String(), s.OnFail, strings.Join(flags, " "), len(s.Steps))
		}
		return w.Flush()
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}
