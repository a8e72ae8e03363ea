package cmds

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lyzr/planrunner/common/planerr"
	"github.com/lyzr/planrunner/common/validate"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plan.yaml>",
		Short: "Run the eight static Validator checks against a Plan",
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

			verr := validate.Validate(plan, a.Registry, validate.Options{
				ResolveSubflow: a.resolvePlan,
				ConfigHasKey:   configHasKey(a),
			})

			var ve *planerr.ValidationError
			if verr != nil && errors.As(verr, &ve) {
				for _, m := range ve.Messages {
					fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] %s: %s\n", m.Severity, m.Check, m.NodeID, m.Text)
				}
				return fmt.Errorf("plan %s failed validation with %d message(s)", plan.ID, len(ve.Messages))
			}
			if verr != nil {
				return verr
			}

			fmt.Fprintf(cmd.OutOrStdout(), "plan %s is valid\n", plan.ID)
			return nil
		},
	}
	return cmd
}

// configHasKey adapts the optional Configuration Store into
// validate.Options.ConfigHasKey, degrading to "always true" (skip the
// check) when no --config files were supplied.
func configHasKey(a *app) func(string) bool {
	if a.Config == nil {
		return nil
	}
	return a.Config.Has
}
