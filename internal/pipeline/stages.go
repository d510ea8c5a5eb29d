package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/rfinnell/demovault/internal/browser"
	"github.com/rfinnell/demovault/internal/config"
	"github.com/rfinnell/demovault/internal/crawler"
	"github.com/rfinnell/demovault/internal/session"
)

// BrowserCrawl is the production CrawlStage: it opens a fresh headless
// browsing context, injects the session cookies, and hands the live page to
// the crawl loop.
type BrowserCrawl struct {
	launcher *browser.Launcher
	crawler  *crawler.Crawler
	steam    config.SteamConfig
	browsing config.BrowserConfig
	crawling config.CrawlerConfig
	log      *zap.Logger
}

func NewBrowserCrawl(launcher *browser.Launcher, cfg *config.Config, logger *zap.Logger) *BrowserCrawl {
	return &BrowserCrawl{
		launcher: launcher,
		crawler:  crawler.New(cfg.Crawler, logger),
		steam:    cfg.Steam,
		browsing: cfg.Browser,
		crawling: cfg.Crawler,
		log:      logger.Named("crawl_stage"),
	}
}

var _ CrawlStage = (*BrowserCrawl)(nil)

func (b *BrowserCrawl) Crawl(ctx context.Context, cookies []session.Cookie, sink func(crawler.Artifact)) (int, error) {
	bctx, err := b.launcher.NewHeadless(ctx)
	if err != nil {
		return 0, err
	}
	defer bctx.Close()

	// Cookies only stick once their domain has been visited.
	if err := bctx.Navigate(b.steam.CommunityURL, b.browsing.NavigationTimeout); err != nil {
		return 0, err
	}
	if err := bctx.SetCookies(session.ToParams(cookies)); err != nil {
		return 0, err
	}

	page := crawler.NewCDPPage(bctx, b.steam.MatchHistoryURL, b.browsing.NavigationTimeout, b.crawling)
	return b.crawler.Crawl(ctx, page, sink)
}
