package cmds

import (
	"github.com/spf13/cobra"

	"github.com/lyzr/planrunner/cmd/planrunner/server"
)

func newServeCommand() *cobra.Command {
	var addr string
	var rateLimit float64

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host validate/dryrun/run/resume over HTTP and tail run events over websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}

			cfg := server.DefaultConfig()
			cfg.Addr = addr
			cfg.RateLimit = rateLimit

			e := server.New(server.Deps{
				Registry:     a.Registry,
				Runner:       a.Runner,
				Evidence:     a.Evidence,
				ResolvePlan:  a.resolvePlan,
				ConfigHasKey: configHasKey(a),
				Log:          a.Log,
			}, cfg)

			a.Log.Info("serving", "addr", cfg.Addr)
			return server.Start(cmd.Context(), e, cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8088", "listen address")
	cmd.Flags().Float64Var(&rateLimit, "rate-limit", 0, "requests/sec, 0 disables rate limiting")
	return cmd
}
