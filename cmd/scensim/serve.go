package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/torosent/scensim/internal/config"
	"github.com/torosent/scensim/internal/remote"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the remote control server",
		Long: `Run the remote control server. Endpoints, scenarios and bindings named in
the configuration file are loaded before the server starts; everything else is
driven remotely (see "scensim call").`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			env, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer env.shutdown()
			if err := env.sim.ApplyRate(env.cfg); err != nil {
				return err
			}

			server := remote.NewServer(remote.NewTable(env.sim), env.logger.With("component", "remote"))
			return server.ListenAndServe(ctx, env.cfg.Listen)
		},
	}
	config.RegisterFlags(cmd)
	return cmd
}
