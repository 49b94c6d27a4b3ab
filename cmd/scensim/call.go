package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/torosent/scensim/internal/config"
	"github.com/torosent/scensim/internal/remote"
)

func newCallCommand() *cobra.Command {
	var (
		address string
		timeout time.Duration
		list    bool
	)
	cmd := &cobra.Command{
		Use:   "call <operation> [name=value ...]",
		Short: "Invoke one operation on a running control server",
		Long: `Invoke one operation on a running control server and print its JSON result.

Values are sent as JSON when they parse as JSON (numbers, booleans, objects)
and as strings otherwise. A value starting with '@' is replaced by the content
of the named file:

  scensim call ScenSimLoad scenario=@login.yaml config=load
  scensim call ScenSimRampUpSessionRate initial=0 target=50 period=1m
  scensim call --list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := remote.NewClient(address, timeout)
			out := cmd.OutOrStdout()

			if list {
				ops, err := client.Operations(cmd.Context())
				if err != nil {
					return err
				}
				for _, op := range ops {
					fmt.Fprintf(out, "%-48s %s\n", op.Name+formatParams(op.Args), op.Doc)
				}
				return nil
			}
			if len(args) == 0 {
				return fmt.Errorf("operation name is required")
			}

			callArgs, err := parseCallArgs(args[1:])
			if err != nil {
				return err
			}
			var result json.RawMessage
			if err := client.Call(cmd.Context(), args[0], callArgs, &result); err != nil {
				return err
			}
			if len(result) == 0 {
				return nil
			}
			var pretty any
			if err := json.Unmarshal(result, &pretty); err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(pretty)
		},
	}
	cmd.Flags().StringVarP(&address, "address", "a", config.DefaultListenAddress, "Control server address (host:port or URL)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall call timeout (0 = none)")
	cmd.Flags().BoolVar(&list, "list", false, "List the operations offered by the server")
	return cmd
}

func parseCallArgs(pairs []string) (map[string]any, error) {
	args := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("argument %q: expected name=value", pair)
		}
		if path, isFile := strings.CutPrefix(value, "@"); isFile {
			content, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("argument %s: %w", name, err)
			}
			args[name] = string(content)
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			args[name] = decoded
			continue
		}
		args[name] = value
	}
	return args, nil
}

func formatParams(params []remote.Param) string {
	names := make([]string, 0, len(params))
	for _, p := range params {
		if p.Optional {
			names = append(names, "["+p.Name+"]")
		} else {
			names = append(names, p.Name)
		}
	}
	return "(" + strings.Join(names, ", ") + ")"
}
