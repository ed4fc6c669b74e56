// plugforge - desktop-app backend supervising a plugin host subprocess
// over newline-delimited JSON-RPC 2.0.

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/plugforge/plugforge/cmd/plugforge/internal/host"
	"github.com/plugforge/plugforge/cmd/plugforge/internal/version"
)

func NewPlugforgeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plugforge",
		Short:   "plugforge - plugin host supervisor",
		Example: "plugforge host --console",
	}

	cmd.AddCommand(
		host.NewHostCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewPlugforgeCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
