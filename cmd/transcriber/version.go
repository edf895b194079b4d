package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.Version=... -X main.BuildDate=..."
var (
	Version   = "dev"
	BuildDate = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "transcriber %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "  Build Date: %s\n", BuildDate)
			fmt.Fprintf(cmd.OutOrStdout(), "  Go Version: %s\n", runtime.Version())
		},
	}
}
