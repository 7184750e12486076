package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "0.1.0-dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the favsweep version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("favsweep %s\n", Version)
		},
	}
}
