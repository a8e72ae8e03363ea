package cmds

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lyzr/planrunner/common/runner"
)

func newRunCommand() *cobra.Command {
	var varsJSON, runID string

	cmd := &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Execute a Plan to completion or until it suspends for human input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}

			plan, err := a.loadPlanFile(args[0])
			if err != nil {
				return err
			}

			vars, err := parseVarsJSON(varsJSON)
			if err != nil {
				return err
			}

			result, err := a.Runner.Run(cmd.Context(), plan, vars, runID)
			if err != nil {
				return err
			}

			return printRunResult(cmd, plan.ID, result)
		},
	}

	cmd.Flags().StringVar(&varsJSON, "vars", "{}", "JSON object overriding plan.vars")
	cmd.Flags().StringVar(&runID, "run-id", "", "run id to use (random uuid if omitted)")
	return cmd
}

func printRunResult(cmd *cobra.Command, planID string, result *runner.Result) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	if result.PendingUI != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "run %s suspended at node %q awaiting input; resume with:\n  planrunner resume %s %s --ui-outputs '{\"%s\": ...}'\n",
			result.RunID, result.PendingUI.NodeID, planID, result.RunID, result.PendingUI.NodeID)
	}
	return nil
}
