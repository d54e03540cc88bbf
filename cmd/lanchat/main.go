// Command lanchat is a serverless LAN chat client: it advertises
// presence, discovers peers, and exchanges reliably-delivered text
// messages over IPv4 multicast, with no server and no persistence.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lanchat",
		Short: "serverless LAN chat over IPv4 multicast",
	}
	cmd.AddCommand(newRunCommand(), newSendCommand(), newVersionCommand())
	return cmd
}
