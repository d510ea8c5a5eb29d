package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rfinnell/demovault/internal/observability"
	"github.com/rfinnell/demovault/internal/pipeline"
	"github.com/rfinnell/demovault/internal/session"
)

// newRunCmd creates the `run` command: a single crawl-and-download pass
// from the terminal, no web UI involved.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Crawl the Steam match history and download new replays",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			comps := buildComponents(cfg, logger)
			sink := func(msg string) {
				logger.Info(msg)
			}
			runner := pipeline.NewRunner(cfg, comps.Sessions, comps.Crawl, comps.Downloads, sink, logger)

			if err := runner.Run(ctx); err != nil {
				if errors.Is(err, session.ErrAuthentication) {
					return fmt.Errorf("steam authentication failed, try `demovault login`: %w", err)
				}
				return err
			}

			snap := runner.Snapshot()
			logger.Info("Run finished",
				zap.String("state", string(snap.State)),
				zap.Int("artifacts", snap.Artifacts),
			)
			return nil
		},
	}
}
