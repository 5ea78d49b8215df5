package cmd

import (
	"github.com/spf13/cobra"
	"github.com/zhaobenny/picost/cli/internal/output"
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	Aliases: []string{"sessions"},
	Short:   "Show cost per session and model (default)",
	Args:    cobra.NoArgs,
	RunE:    runSessions,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Show total cost per model across all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := buildReport(cmd.Context())
		if err != nil {
			return err
		}
		if reportFlags.jsonOut {
			return output.PrintJSON(cmd.OutOrStdout(), report)
		}
		output.PrintModels(cmd.OutOrStdout(), report, tableOptions())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd, modelsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	report, err := buildReport(cmd.Context())
	if err != nil {
		return err
	}
	if reportFlags.jsonOut {
		return output.PrintJSON(cmd.OutOrStdout(), report)
	}
	output.PrintReport(cmd.OutOrStdout(), report, tableOptions())
	return nil
}
