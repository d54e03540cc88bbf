package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is bumped by hand; there is no build-time injection in this
// module yet.
const version = "0.1.0"

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the lanchat version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "lanchat %s\n", version)
			return nil
		},
	}
}
