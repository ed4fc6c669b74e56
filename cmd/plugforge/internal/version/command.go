package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plugforge/plugforge/cmd/plugforge/internal"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the plugforge version",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println("plugforge " + internal.GetVersion())
		},
	}
}
