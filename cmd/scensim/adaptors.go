package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/torosent/scensim/internal/simulator"
)

func newAdaptorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "adaptors",
		Short: "List the built-in protocol adaptor types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, info := range simulator.DefaultCatalog().TypeInfos() {
				schemas := "any"
				if len(info.Schemas) > 0 {
					schemas = strings.Join(info.Schemas, ", ")
				}
				fmt.Fprintf(out, "%-10s schemas: %s\n           %s\n", info.Name, schemas, info.Description)
			}
			return nil
		},
	}
}
