package cmds

import (
	"context"

	"github.com/spf13/cobra"
)

var opts appOptions

// Execute runs the root command against ctx (cancelled on SIGINT/SIGTERM by
// main.go), grounded on piwi3910-openfroyo's cmd/froyo/commands.Execute
// shape.
func Execute(ctx context.Context, version string) error {
	root := newRootCommand(version)
	return root.ExecuteContext(ctx)
}

func newRootCommand(version string) *cobra.Command {
	root := &cobra.Command{
		Use:     "planrunner",
		Short:   "Declarative Plan/Block workflow execution engine",
		Version: version,
	}

	root.PersistentFlags().StringVar(&opts.blocksDir, "blocks", "blocks", "directory of *.block.yaml Block Specs")
	root.PersistentFlags().StringVar(&opts.plansDir, "plans-dir", "", "directory of *.plan.yaml documents, for subflow and resume lookups")
	root.PersistentFlags().StringVar(&opts.runsDir, "runs-dir", "runs", "directory for evidence logs and run state snapshots")
	root.PersistentFlags().StringArrayVar(&opts.configPaths, "config", nil, "layered configuration YAML file (repeatable, later files override earlier ones)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "debug|info|warn|error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "console", "console|json")

	root.AddCommand(newValidateCommand())
	root.AddCommand(newDryrunCommand())
	root.AddCommand(newRunCommand())
	root.AddCommand(newResumeCommand())
	root.AddCommand(newServeCommand())

	return root
}
