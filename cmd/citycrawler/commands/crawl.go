package commands

import (
	"github.com/spf13/cobra"

	"citycrawler/internal/crawler"
	"citycrawler/internal/export"
	"citycrawler/internal/logging"
	"citycrawler/internal/progress"
)

func newCrawlCmd() *cobra.Command {
	var (
		s            settings
		showProgress bool
	)
	cmd := &cobra.Command{
		Use:   "crawl [--config <file>] [--root-url <url>] [--output <file>]",
		Short: "Discovers cities from the root listing and collects each city's locations.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := s.resolve(cmd.Flags(), nil)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			var (
				reporter crawler.Reporter
				spin     *progress.Spinner
			)
			if showProgress {
				spin = progress.NewSpinner(cmd.ErrOrStderr())
				reporter = spin
			}

			ctx := cmd.Context()
			engine, err := crawler.NewEngine(ctx, *cfg, logger, reporter)
			if err != nil {
				return err
			}
			defer engine.Close()

			logger.Info("starting crawl",
				"root_url", cfg.Crawl.RootURL,
				"checkpoint", cfg.Checkpoint.Path,
				"policy", cfg.Checkpoint.Policy,
				"on_exhausted", cfg.Retry.OnExhausted,
				"engine", cfg.Rendering.Engine,
			)

			if spin != nil {
				spin.Start()
			}
			_, runErr := engine.Run(ctx)
			if spin != nil {
				spin.Stop()
			}

			export.WriteSummary(cmd.OutOrStdout(), engine.Summary())
			return runErr
		},
	}
	s.bind(cmd.Flags())
	cmd.Flags().BoolVar(&showProgress, "progress", false, "Show a progress spinner on stderr")
	return cmd
}
