package cmds

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newResumeCommand() *cobra.Command {
	var uiOutputsJSON, patchJSON string

	cmd := &cobra.Command{
		Use:   "resume <plan-id> <run-id>",
		Short: "Resume a run suspended at a UI node, submitting its ui_outputs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			planID, runID := args[0], args[1]

			if patchJSON != "" {
				if uiOutputsJSON != "{}" {
					return fmt.Errorf("resume: --ui-outputs and --patch are mutually exclusive")
				}
				result, err := a.Runner.ResumeWithPatch(planID, runID, []byte(patchJSON))
				if err != nil {
					return err
				}
				return printRunResult(cmd, planID, result)
			}

			uiOutputs := map[string]any{}
			if err := json.Unmarshal([]byte(uiOutputsJSON), &uiOutputs); err != nil {
				return fmt.Errorf("parsing --ui-outputs: %w", err)
			}
			result, err := a.Runner.Resume(planID, runID, uiOutputs)
			if err != nil {
				return err
			}
			return printRunResult(cmd, planID, result)
		},
	}

	cmd.Flags().StringVar(&uiOutputsJSON, "ui-outputs", "{}", `JSON object {"<node_id>": <submission>}`)
	cmd.Flags().StringVar(&patchJSON, "patch", "", "RFC 6902 JSON Patch document to apply against the suspended node's input snapshot, instead of --ui-outputs")
	return cmd
}
