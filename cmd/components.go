package cmd

import (
	"go.uber.org/zap"

	"github.com/rfinnell/demovault/internal/browser"
	"github.com/rfinnell/demovault/internal/config"
	"github.com/rfinnell/demovault/internal/downloader"
	"github.com/rfinnell/demovault/internal/pipeline"
	"github.com/rfinnell/demovault/internal/session"
)

// components bundles the wired application graph shared by the run,
// serve and login commands.
type components struct {
	Sessions  *session.Manager
	Crawl     *pipeline.BrowserCrawl
	Downloads *downloader.Engine
}

func buildComponents(cfg *config.Config, logger *zap.Logger) *components {
	launcher := browser.NewLauncher(cfg.Browser, logger)
	store := session.NewStore(cfg.Session.CookieFile, logger)
	probe := session.NewBrowserProbe(launcher, cfg.Steam, cfg.Session, cfg.Browser.NavigationTimeout, logger)

	return &components{
		Sessions:  session.NewManager(store, probe, cfg.Session, logger),
		Crawl:     pipeline.NewBrowserCrawl(launcher, cfg, logger),
		Downloads: downloader.New(cfg.Download, logger),
	}
}
