package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all configuration flags on a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "scensim",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all configuration flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to configuration file (JSON, YAML or TOML)")

	// Server flags
	flags.String("listen", DefaultListenAddress, "Address of the remote control server")
	flags.String("log-level", DefaultLogLevel, "Log level: trace, debug, info, warn or error")

	// Scheduler flags
	flags.Int("max-active-sessions", DefaultMaxActiveSessions, "Maximum number of sessions in flight")
	flags.Duration("tick-interval", DefaultTickInterval, "Scheduler tick interval")
	flags.String("arrival-model", string(ArrivalModelUniform), "Session arrival model (uniform or poisson)")
	flags.Int64("seed", 0, "Random seed for scenario selection and arrivals (0 = time based)")
	flags.Duration("quit-timeout", DefaultQuitTimeout, "How long quit waits for sessions before terminating them")
	flags.Duration("ready-timeout", DefaultReadyTimeout, "How long to wait for endpoints to become operational")

	// Load flags
	flags.Float64P("rate", "r", 0, "Sessions started per second")
	flags.Float64("ramp-from", 0, "Initial session rate of a ramp")
	flags.Float64("ramp-to", 0, "Target session rate of a ramp")
	flags.Duration("ramp-period", 0, "Ramp period (0 disables the ramp)")
	flags.DurationP("duration", "d", 0, "How long to generate sessions (e.g. 30s, 1m)")

	// Output flags
	flags.Bool("json-output", false, "Emit JSON formatted report")
	flags.StringSlice("threshold", nil, "Pass/fail thresholds (repeatable, e.g. 'session_duration:p95 < 500')")

	// Tracing flags
	flags.String("otlp-endpoint", "", "OTLP collector endpoint for session traces")
	flags.String("otlp-protocol", "grpc", "OTLP protocol (grpc or http)")
	flags.Bool("otlp-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("trace-sample-rate", 0, "Trace sampling ratio between 0 and 1 (0 = always sample)")

	// Binding flags
	flags.StringToString("prefer", nil, "Preferred scenario weights as name=weight pairs")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("listen") {
		val, err := fs.GetString("listen")
		if err != nil {
			return err
		}
		cfg.Listen = strings.TrimSpace(val)
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.LogLevel = val
	}
	if fs.Changed("max-active-sessions") {
		val, err := fs.GetInt("max-active-sessions")
		if err != nil {
			return err
		}
		cfg.MaxActiveSessions = val
	}
	if fs.Changed("tick-interval") {
		val, err := fs.GetDuration("tick-interval")
		if err != nil {
			return err
		}
		cfg.TickInterval = val
	}
	if fs.Changed("arrival-model") {
		val, err := fs.GetString("arrival-model")
		if err != nil {
			return err
		}
		cfg.Arrival.Model = ArrivalModel(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("seed") {
		val, err := fs.GetInt64("seed")
		if err != nil {
			return err
		}
		cfg.Seed = val
	}
	if fs.Changed("quit-timeout") {
		val, err := fs.GetDuration("quit-timeout")
		if err != nil {
			return err
		}
		cfg.QuitTimeout = val
	}
	if fs.Changed("ready-timeout") {
		val, err := fs.GetDuration("ready-timeout")
		if err != nil {
			return err
		}
		cfg.ReadyTimeout = val
	}
	if fs.Changed("rate") {
		val, err := fs.GetFloat64("rate")
		if err != nil {
			return err
		}
		cfg.Rate = val
	}
	if fs.Changed("ramp-from") {
		val, err := fs.GetFloat64("ramp-from")
		if err != nil {
			return err
		}
		cfg.Ramp.From = val
	}
	if fs.Changed("ramp-to") {
		val, err := fs.GetFloat64("ramp-to")
		if err != nil {
			return err
		}
		cfg.Ramp.To = val
	}
	if fs.Changed("ramp-period") {
		val, err := fs.GetDuration("ramp-period")
		if err != nil {
			return err
		}
		cfg.Ramp.Period = val
	}
	if fs.Changed("duration") {
		val, err := fs.GetDuration("duration")
		if err != nil {
			return err
		}
		cfg.Duration = val
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}
	if fs.Changed("otlp-endpoint") {
		val, err := fs.GetString("otlp-endpoint")
		if err != nil {
			return err
		}
		cfg.Tracing.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("otlp-protocol") {
		val, err := fs.GetString("otlp-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = val
	}
	if fs.Changed("otlp-insecure") {
		val, err := fs.GetBool("otlp-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("trace-sample-rate") {
		val, err := fs.GetFloat64("trace-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("prefer") {
		val, err := fs.GetStringToString("prefer")
		if err != nil {
			return err
		}
		weights := make(map[string]float64, len(val))
		for name, raw := range val {
			w, err := asFloat64(raw)
			if err != nil {
				return fmt.Errorf("prefer %s: %w", name, err)
			}
			weights[name] = w
		}
		cfg.Preferred = weights
	}
	return nil
}
