package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/torosent/scensim/internal/config"
	"github.com/torosent/scensim/internal/metrics"
	"github.com/torosent/scensim/internal/output"
	"github.com/torosent/scensim/internal/simulator"
	"github.com/torosent/scensim/internal/threshold"
)

// progressSource adapts a simulator to the progress reporter.
type progressSource struct {
	sim *simulator.Simulator
}

func (p progressSource) SessionSnapshot() metrics.SessionStatusSnapshot {
	return p.sim.SessionStatsSnapshot()
}

func (p progressSource) Rate() float64 {
	return p.sim.SessionRate()
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate sessions from a configuration file and report the results",
		Long: `Load the configuration, wait for every endpoint to become operational and
generate sessions at the configured rate or ramp for --duration (until
interrupted when zero). The run fails when a threshold fails, a session ends
non-matching or a dialog is rejected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			env, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer env.shutdown()
			cfg, sim := env.cfg, env.sim

			parsed, err := threshold.ParseMultiple(cfg.Thresholds)
			if err != nil {
				return err
			}
			if len(sim.InitiatingScenarioNames()) == 0 {
				return fmt.Errorf("no initiating scenario loaded")
			}
			if err := sim.WaitUntilOperational(ctx, cfg.ReadyTimeout); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var progress *output.ProgressReporter
			if !cfg.JSONOutput {
				progress = output.NewProgressReporter(progressSource{sim}, progressSource{sim}, progressInterval, out)
				progress.Start()
			}

			if err := sim.ApplyRate(cfg); err != nil {
				return err
			}
			sim.ResetSessionAndDialogStats()
			sim.StartGeneratingSessions()
			wait(ctx.Done(), cfg.Duration)
			sim.StopGeneratingSessions()
			drain(sim, cfg.QuitTimeout)

			if progress != nil {
				progress.Stop()
				fmt.Fprintln(out)
			}
			return report(out, cfg, sim, parsed)
		},
	}
	config.RegisterFlags(cmd)
	return cmd
}

// wait blocks until done is closed or, when d is positive, d has elapsed.
func wait(done <-chan struct{}, d time.Duration) {
	if d <= 0 {
		<-done
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	}
}

// drain waits up to timeout for sessions in flight so they land in the report.
func drain(sim *simulator.Simulator, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for sim.SessionStatsSnapshot().Active > 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
}

func report(out io.Writer, cfg *config.Config, sim *simulator.Simulator, parsed []threshold.Threshold) error {
	stats := sim.Stats()
	results := threshold.NewEvaluator(parsed).Evaluate(stats)
	r := output.NewReport(stats.Sessions, stats.Dialogs, sim.EndpointTraffic(), results)

	if cfg.JSONOutput {
		if err := output.PrintJSONReport(out, r); err != nil {
			return err
		}
	} else {
		output.PrintReport(out, r)
	}
	if !r.Passed {
		return fmt.Errorf("run failed: %d non-matching, %d rejected dialogs, thresholds passed: %t",
			stats.Sessions.NonMatching, stats.Dialogs.Rejected, threshold.AllPass(results))
	}
	return nil
}
