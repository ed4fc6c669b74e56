package host

import (
	"github.com/spf13/cobra"
)

func NewHostCommand() *cobra.Command {
	var debug bool
	var console bool
	var configPath string

	cmd := &cobra.Command{
		Use:     "host",
		Aliases: []string{"h"},
		Short:   "Start the plugin host under supervision",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return hostCmd(debug, console, configPath)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&console, "console", false, "Open an interactive console against the plugin host")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")

	return cmd
}
