package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/torosent/scensim/internal/har"
)

func newHARCommand() *cobra.Command {
	opts := har.DefaultOptions()
	var (
		output      string
		keepStatic  bool
		dropHeaders bool
	)
	cmd := &cobra.Command{
		Use:   "har <capture.har>",
		Short: "Convert a browser HAR capture into a replay scenario",
		Long: `Convert the requests of a HAR capture into a scenario with one HTTP dialog.
Each request becomes a send step followed by an expect step on the recorded
status. Bind the "client" role to an http endpoint whose address is the
printed base URL.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			capture, err := har.ParseFile(args[0])
			if err != nil {
				return err
			}
			opts.ExcludeStatic = !keepStatic
			opts.IncludeHeaders = !dropHeaders

			rec, err := har.Convert(capture, opts)
			if err != nil {
				return err
			}
			content := append([]byte(fmt.Sprintf("# endpoint address: %s\n", rec.Address)), rec.Definition...)

			if output == "" || output == "-" {
				_, err := cmd.OutOrStdout().Write(content)
				return err
			}
			if err := os.WriteFile(output, content, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d requests for %s to %s\n", rec.Requests, rec.Address, output)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&output, "output", "o", "", "Write the scenario to this file instead of stdout")
	flags.StringVar(&opts.Scenario, "name", opts.Scenario, "Scenario name")
	flags.StringSliceVar(&opts.IncludeHosts, "include-host", nil, "Only replay requests to these hosts")
	flags.StringSliceVar(&opts.ExcludeHosts, "exclude-host", nil, "Skip requests to these hosts")
	flags.StringSliceVar(&opts.IncludeMethods, "method", nil, "Only replay these HTTP methods")
	flags.BoolVar(&keepStatic, "keep-static", false, "Keep scripts, stylesheets, images and fonts")
	flags.BoolVar(&dropHeaders, "no-headers", false, "Do not copy recorded request headers")
	flags.BoolVar(&opts.KeepPauses, "keep-pauses", false, "Insert wait steps for recorded think time")
	flags.DurationVar(&opts.StepTimeout, "step-timeout", 0, "Timeout of each expect step (0 = scenario default)")
	return cmd
}
