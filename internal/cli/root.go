// Package cli implements the playlake command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

// BuildInfo is stamped into the binary with ldflags.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

func Run(info BuildInfo) ExitCode {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd(info, os.Getenv).ExecuteContext(ctx); err != nil {
		return exitCodeError
	}
	return exitCodeSuccess
}

// NewRootCmd builds the command tree. Environment lookups go through getenv.
func NewRootCmd(info BuildInfo, getenv func(string) string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "playlake",
		Short:        "Build a song play star schema from catalog and event logs.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Help(); err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	var verbose bool
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "set debug logging level")

	rootCmd.AddCommand(
		NewRunCmd(info, getenv).Command(),
		NewVersionCmd(info).Command(),
	)
	return rootCmd
}

func verboseFlag(cmd *cobra.Command) (bool, error) {
	verbose, err := cmd.Root().PersistentFlags().GetBool("verbose")
	if err != nil {
		return false, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	return verbose, nil
}
