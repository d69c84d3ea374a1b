// Package commands wires the citycrawler command line.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "citycrawler",
		Short:         "citycrawler harvests paginated city and location listings into a resumable dataset.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newCrawlCmd(), newExportCmd(), newConfigCmd())
	return cmd
}

// ExecuteContext runs the command line and returns the process exit code.
func ExecuteContext(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
