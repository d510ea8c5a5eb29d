package cmd

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rfinnell/demovault/internal/observability"
	"github.com/rfinnell/demovault/internal/pipeline"
	"github.com/rfinnell/demovault/internal/webui"
)

// newServeCmd creates the `serve` command, hosting the dashboard until
// interrupted.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the status dashboard and control API",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlag("web.listen_addr", cmd.Flags().Lookup("listen"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			if addr := viper.GetString("web.listen_addr"); addr != "" {
				cfg.Web.ListenAddr = addr
			}

			comps := buildComponents(cfg, logger)
			broker := webui.NewStatusBroker()
			sink := func(msg string) {
				logger.Info(msg)
				broker.Publish(msg)
			}
			runner := pipeline.NewRunner(cfg, comps.Sessions, comps.Crawl, comps.Downloads, sink, logger)

			srv, err := webui.NewServer(cfg.Web.ListenAddr, runner, comps.Sessions, broker, cfg.Download.OutputDir, logger)
			if err != nil {
				return err
			}

			logger.Info("Dashboard available", zap.String("url", "http://"+cfg.Web.ListenAddr+"/"))
			if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	serveCmd.Flags().String("listen", "", "address to listen on (overrides web.listen_addr)")
	return serveCmd
}
