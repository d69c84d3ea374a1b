package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"citycrawler/internal/checkpoint"
	"citycrawler/internal/export"
	"citycrawler/internal/logging"
)

func newExportCmd() *cobra.Command {
	var (
		input  string
		output string
		format string
	)
	cmd := &cobra.Command{
		Use:   "export [--input <checkpoint>] [--format csv|json|table]",
		Short: "Renders a checkpoint dataset as CSV, JSON or a summary table.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(input); err != nil {
				return fmt.Errorf("read checkpoint: %w", err)
			}
			ds, err := checkpoint.NewStore(input, logging.Discard()).Read()
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				return export.Write(cmd.OutOrStdout(), ds, format)
			}
			fh, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create export file: %w", err)
			}
			if err := export.Write(fh, ds, format); err != nil {
				_ = fh.Close()
				return err
			}
			return errors.Join(fh.Sync(), fh.Close())
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "locations.json", "Checkpoint file to read")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Destination file, - for stdout")
	cmd.Flags().StringVarP(&format, "format", "f", export.FormatCSV, "Output format: csv, json or table")
	return cmd
}
