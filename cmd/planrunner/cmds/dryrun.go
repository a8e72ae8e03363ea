package cmds

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lyzr/planrunner/common/dryrun"
)

func newDryrunCommand() *cobra.Command {
	var varsJSON string

	cmd := &cobra.Command{
		Use:   "dryrun <plan.yaml>",
		Short: "Synthesize a Plan's outputs from Block Spec schemas without invoking any Block",
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

			result, err := dryrun.Run(plan, a.Registry, vars)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result.Outputs)
		},
	}

	cmd.Flags().StringVar(&varsJSON, "vars", "{}", "JSON object overriding plan.vars")
	return cmd
}

func parseVarsJSON(s string) (map[string]any, error) {
	vars := map[string]any{}
	if s == "" {
		return vars, nil
	}
	if err := json.Unmarshal([]byte(s), &vars); err != nil {
		return nil, fmt.Errorf("parsing --vars: %w", err)
	}
	return vars, nil
}
