package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/torosent/scensim/internal/config"
	"github.com/torosent/scensim/internal/logging"
	"github.com/torosent/scensim/internal/simulator"
	"github.com/torosent/scensim/internal/tracing"
)

const progressInterval = time.Second

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "scensim",
		Short:         "Drive scripted protocol sessions against endpoints at a controlled rate",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(
		newServeCommand(),
		newRunCommand(),
		newCallCommand(),
		newAdaptorsCommand(),
		newHARCommand(),
	)
	return root
}

// environment is what serve and run share: a configured simulator plus the
// logger and tracing provider it was built with.
type environment struct {
	cfg      *config.Config
	logger   *slog.Logger
	tracing  *tracing.Provider
	sim      *simulator.Simulator
	shutdown func()
}

func setup(ctx context.Context, cmd *cobra.Command) (*environment, error) {
	cfg, err := config.NewLoader().LoadFlags(cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.NewLogger(cfg.LogLevel, cmd.ErrOrStderr())
	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}

	opts := simulator.OptionsFromConfig(cfg)
	opts.Tracer = provider.Tracer()
	opts.Logger = logger
	sim := simulator.New(opts)

	env := &environment{
		cfg:     cfg,
		logger:  logger,
		tracing: provider,
		sim:     sim,
	}
	env.shutdown = func() {
		if err := sim.Quit(cfg.QuitTimeout); err != nil {
			logger.Warn("closing endpoints", "error", err)
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(flushCtx); err != nil {
			logger.Warn("flushing traces", "error", err)
		}
	}

	if err := sim.Apply(cfg); err != nil {
		env.shutdown()
		return nil, err
	}
	return env, nil
}
