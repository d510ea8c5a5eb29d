package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rfinnell/demovault/internal/observability"
)

// newLoginCmd creates the `login` command. It always opens the headed
// browser, even when a saved session still looks valid.
func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Open a browser window to sign in to Steam and save the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			comps := buildComponents(cfg, logger)

			logger.Info("Opening browser window, complete the Steam login there")
			cookies, err := comps.Sessions.Login(cmd.Context())
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			logger.Info("Session saved",
				zap.Int("cookies", len(cookies)),
				zap.String("cookie_file", cfg.Session.CookieFile),
			)
			return nil
		},
	}
}
