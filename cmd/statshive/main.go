// Package main provides the statshive daemon binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/statshive/statshive/internal/cli/daemon"
	"github.com/statshive/statshive/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "statshive",
		Short:         "statshive - cluster stats collection and profiling daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	daemon.RegisterCommands(rootCmd)
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("statshive version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}
